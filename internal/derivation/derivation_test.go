package derivation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/ominit/nix-relay/internal/command/commandtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloJSON = `{
  "/nix/store/aaa-hello.drv": {
    "name": "hello",
    "system": "x86_64-linux",
    "outputs": {"out": {"path": "/nix/store/bbb-hello"}},
    "inputDrvs": {
      "/nix/store/ccc-stdenv.drv": {"dynamicOutputs": {}, "outputs": ["out"]},
      "/nix/store/ddd-bash.drv": {"dynamicOutputs": {}, "outputs": ["out"]}
    }
  }
}`

func TestParse(t *testing.T) {
	t.Run("single record", func(t *testing.T) {
		drv, err := Parse([]byte(helloJSON))
		require.NoError(t, err)

		expected := &Derivation{
			Key:          "/nix/store/aaa-hello.drv",
			Name:         "hello",
			System:       "x86_64-linux",
			Outputs:      map[string]string{"out": "/nix/store/bbb-hello"},
			Dependencies: []string{"/nix/store/ccc-stdenv.drv", "/nix/store/ddd-bash.drv"},
		}
		if diff := cmp.Diff(expected, drv, cmpopts.IgnoreFields(Derivation{}, "Raw")); diff != "" {
			t.Errorf("parsed derivation mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, helloJSON, string(drv.Raw), "raw bytes must be kept verbatim")
		assert.False(t, drv.IsLeaf())
	})

	t.Run("leaf without inputs", func(t *testing.T) {
		drv, err := Parse([]byte(`{"/nix/store/x.drv": {"name": "x", "outputs": {"out": {"path": "/nix/store/x"}}}}`))
		require.NoError(t, err)
		assert.True(t, drv.IsLeaf())
		assert.Empty(t, drv.Dependencies)
	})

	t.Run("error cases", func(t *testing.T) {
		cases := map[string]string{
			"not json":        `nope`,
			"no records":      `{}`,
			"two records":     `{"a": {"outputs": {"out": {"path": "p"}}}, "b": {"outputs": {"out": {"path": "q"}}}}`,
			"no outputs":      `{"a": {"name": "a"}}`,
			"wrong top shape": `["a"]`,
		}
		for name, raw := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := Parse([]byte(raw))
				assert.Error(t, err)
			})
		}
	})
}

func TestPrimaryOutput(t *testing.T) {
	d := &Derivation{Outputs: map[string]string{"dev": "/d", "out": "/o"}}
	assert.Equal(t, "/o", d.PrimaryOutput())

	d = &Derivation{Outputs: map[string]string{"lib": "/l", "dev": "/d"}}
	assert.Equal(t, "/d", d.PrimaryOutput())

	d = &Derivation{}
	assert.Equal(t, "", d.PrimaryOutput())
}

func TestSplit(t *testing.T) {
	objs, err := Split([]byte(`{"/b.drv": {"name": "b"}, "/a.drv": {"name": "a"}}`))
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "/a.drv", objs[0].Key)
	assert.JSONEq(t, `{"name": "a"}`, string(objs[0].JSON))
	assert.Equal(t, "/b.drv", objs[1].Key)

	_, err = Split([]byte(`{}`))
	assert.ErrorContains(t, err, "no derivations")

	_, err = Split([]byte(`garbage`))
	assert.Error(t, err)
}

func TestResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves a reference", func(t *testing.T) {
		runner := commandtest.New().On("nix derivation show .#hello", commandtest.Stdout(helloJSON))
		r := NewResolver(runner)

		drv, err := r.Resolve(ctx, ".#hello")
		require.NoError(t, err)
		assert.Equal(t, "/nix/store/aaa-hello.drv", drv.Key)
		assert.Equal(t, []string{"nix derivation show .#hello"}, runner.CallLines())
	})

	t.Run("resolves by key", func(t *testing.T) {
		runner := commandtest.New().On("nix derivation show /nix/store/aaa-hello.drv", commandtest.Stdout(helloJSON))
		drv, err := NewResolver(runner).ResolveByKey(ctx, "/nix/store/aaa-hello.drv")
		require.NoError(t, err)
		assert.Equal(t, "hello", drv.Name)
	})

	t.Run("non-zero exit carries the diagnostic", func(t *testing.T) {
		runner := commandtest.New().On("nix derivation show", commandtest.Exit(1, "error: flake not found"))
		_, err := NewResolver(runner).Resolve(ctx, ".#missing")

		var resErr *ResolutionError
		require.True(t, errors.As(err, &resErr))
		assert.Equal(t, ".#missing", resErr.Ref)
		assert.Contains(t, err.Error(), "error: flake not found")
	})

	t.Run("unparseable output", func(t *testing.T) {
		runner := commandtest.New().On("nix derivation show", commandtest.Stdout("not json"))
		_, err := NewResolver(runner).Resolve(ctx, ".#x")

		var resErr *ResolutionError
		require.True(t, errors.As(err, &resErr))
		assert.ErrorContains(t, err, "invalid derivation json")
	})
}
