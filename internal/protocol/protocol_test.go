package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobFrame(t *testing.T) {
	payload := []byte(`{"/nix/store/a.drv": {"name": "a b c"}}`)
	frame := EncodeJob("/nix/store/a.drv", payload)
	assert.Equal(t, `job /nix/store/a.drv {"/nix/store/a.drv": {"name": "a b c"}}`, frame)

	job, err := ParseJob(frame)
	require.NoError(t, err)
	assert.Equal(t, "/nix/store/a.drv", job.Key)
	assert.Equal(t, payload, job.Payload, "payload must survive spaces verbatim")
}

func TestParseCompletion(t *testing.T) {
	t.Run("valid frames", func(t *testing.T) {
		c, err := ParseCompletion("/nix/store/a.drv true")
		require.NoError(t, err)
		assert.Equal(t, Completion{Key: "/nix/store/a.drv", Success: true}, c)

		c, err = ParseCompletion(EncodeCompletion("/nix/store/b.drv", false))
		require.NoError(t, err)
		assert.Equal(t, Completion{Key: "/nix/store/b.drv", Success: false}, c)
	})

	t.Run("malformed frames", func(t *testing.T) {
		for _, frame := range []string{"", "justakey", " true", "key yes", "key TRUE", "key true extra"} {
			_, err := ParseCompletion(frame)
			var perr *ProtocolError
			assert.True(t, errors.As(err, &perr), "frame %q should be rejected", frame)
		}
	})
}

func TestWorkerFrames(t *testing.T) {
	t.Run("request-build", func(t *testing.T) {
		job, err := ParseRequestBuild(EncodeRequestBuild("/k.drv", []byte("{ }")))
		require.NoError(t, err)
		assert.Equal(t, "/k.drv", job.Key)
		assert.Equal(t, "{ }", string(job.Payload))

		_, err = ParseRequestBuild("request-build /k.drv")
		assert.Error(t, err)
		_, err = ParseRequestBuild("job /k.drv {}")
		assert.Error(t, err)
	})

	t.Run("complete", func(t *testing.T) {
		assert.Equal(t, "complete true /k.drv", EncodeComplete(true, "/k.drv"))

		c, err := ParseComplete("complete false /k.drv")
		require.NoError(t, err)
		assert.Equal(t, Completion{Key: "/k.drv", Success: false}, c)

		_, err = ParseComplete("complete maybe /k.drv")
		assert.Error(t, err)
		_, err = ParseComplete("complete true")
		assert.Error(t, err)
	})

	t.Run("verb", func(t *testing.T) {
		assert.Equal(t, VerbRegister, Verb("register"))
		assert.Equal(t, VerbRequestBuild, Verb("request-build /k {}"))
	})
}

func TestProtocolError_TruncatesLongFrames(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err := &ProtocolError{Frame: string(long), Reason: "bad"}
	assert.Less(t, len(err.Error()), 200)
}

func TestEncode_ReplacesInvalidUTF8(t *testing.T) {
	frame := EncodeJob("k", []byte{'a', 0xff, 'b'})
	assert.Equal(t, "job k a�b", frame)
}
