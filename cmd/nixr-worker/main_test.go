package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ominit/nix-relay/internal/app"
	"github.com/ominit/nix-relay/internal/protocol"
	"github.com/ominit/nix-relay/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestRun_MissingConfigFile(t *testing.T) {
	t.Parallel()

	err := run(context.Background(), &bytes.Buffer{}, []string{"-config", filepath.Join(t.TempDir(), "absent.hcl")})

	require.Error(t, err)
	require.Contains(t, err.Error(), "application startup panicked")
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	require.NoError(t, run(context.Background(), out, []string{"-h"}))
	require.Contains(t, out.String(), "Usage:")
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	relay := testutil.NewRelay(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	// --- Act ---
	go func() {
		done <- run(ctx, &testutil.SafeBuffer{}, []string{"-config", testutil.WriteConfig(t, relay, "")},
			app.WithRunner(testutil.NewFakeNix()))
	}()
	relay.WaitForFrame(func(f string) bool { return f == protocol.VerbRegister })
	cancel()

	// --- Assert ---
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
