package command

import (
	"bytes"
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner_Run(t *testing.T) {
	requireShell(t)
	ctx := context.Background()

	t.Run("captures stdout and stdin", func(t *testing.T) {
		res, err := ExecRunner{}.Run(ctx, Cmd{Name: "sh", Args: []string{"-c", "cat"}, Stdin: []byte("payload")})
		require.NoError(t, err)
		assert.True(t, res.Success())
		assert.Equal(t, "payload", string(res.Stdout))
	})

	t.Run("non-zero exit is reported through the result", func(t *testing.T) {
		res, err := ExecRunner{}.Run(ctx, Cmd{Name: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}})
		require.NoError(t, err)
		assert.False(t, res.Success())
		assert.Equal(t, 3, res.ExitCode)
		assert.Equal(t, "broken", res.Diagnostic())
	})

	t.Run("missing binary is an error", func(t *testing.T) {
		_, err := ExecRunner{}.Run(ctx, Cmd{Name: "definitely-not-a-real-binary-xyz"})
		require.Error(t, err)
	})

	t.Run("empty command is rejected", func(t *testing.T) {
		_, err := ExecRunner{}.Run(ctx, Cmd{})
		require.ErrorContains(t, err, "empty command")
	})
}

func TestAttached(t *testing.T) {
	requireShell(t)
	out := &bytes.Buffer{}
	code, err := Attached(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "echo hi; exit 7"}}, nil, out, out)
	require.NoError(t, err)
	assert.Equal(t, 7, code)
	assert.Equal(t, "hi\n", out.String())
}

func TestCmd_String(t *testing.T) {
	assert.Equal(t, "nix copy --to http://x", Cmd{Name: "nix", Args: []string{"copy", "--to", "http://x"}}.String())
}
