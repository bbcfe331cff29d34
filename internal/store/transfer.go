package store

import (
	"context"
	"fmt"

	"github.com/ominit/nix-relay/internal/command"
)

// Transfer copies artifacts between the local store and a remote binary cache.
type Transfer struct {
	runner   command.Runner
	cacheURL string
}

// NewTransfer creates a Transfer against the cache at cacheURL.
func NewTransfer(runner command.Runner, cacheURL string) *Transfer {
	return &Transfer{runner: runner, cacheURL: cacheURL}
}

// CacheURL returns the remote endpoint artifacts are copied to and from.
func (t *Transfer) CacheURL() string {
	return t.cacheURL
}

// Pull copies the outputs of key from the remote cache into the local store.
func (t *Transfer) Pull(ctx context.Context, key string) error {
	return t.copy(ctx, "pull", "--from", key)
}

// Push copies the outputs of key from the local store to the remote cache.
func (t *Transfer) Push(ctx context.Context, key string) error {
	return t.copy(ctx, "push", "--to", key)
}

func (t *Transfer) copy(ctx context.Context, direction, flag, key string) error {
	res, err := t.runner.Run(ctx, command.Cmd{
		Name: "nix",
		Args: []string{"copy", flag, t.cacheURL, key + "^*", "--refresh", "--repair", "-v"},
	})
	if err != nil {
		return &TransferError{Direction: direction, Key: key, Err: err}
	}
	if !res.Success() {
		return &TransferError{
			Direction:  direction,
			Key:        key,
			Diagnostic: res.Diagnostic(),
			Err:        fmt.Errorf("exit status %d", res.ExitCode),
		}
	}
	return nil
}
