package store

import (
	"context"
	"fmt"

	"github.com/ominit/nix-relay/internal/command"
	"github.com/ominit/nix-relay/internal/ctxlog"
)

// Local is the local Nix store.
type Local struct {
	runner command.Runner
}

// NewLocal creates a Local store backed by runner.
func NewLocal(runner command.Runner) *Local {
	return &Local{runner: runner}
}

// Exists reports whether path is present and valid in the local store. Any
// failure to run the check counts as absent.
func (s *Local) Exists(ctx context.Context, path string) bool {
	if path == "" {
		return false
	}
	res, err := s.runner.Run(ctx, command.Cmd{Name: "nix-store", Args: []string{"--verify-path", path}})
	if err != nil {
		ctxlog.FromContext(ctx).Debug("Existence check could not run.", "path", path, "error", err)
		return false
	}
	return res.Success()
}

// Add submits one serialized derivation to the store.
func (s *Local) Add(ctx context.Context, key string, obj []byte) error {
	res, err := s.runner.Run(ctx, command.Cmd{Name: "nix", Args: []string{"derivation", "add"}, Stdin: obj})
	return check("add", key, res, err)
}

// Realise builds the derivation identified by key.
func (s *Local) Realise(ctx context.Context, key string) error {
	res, err := s.runner.Run(ctx, command.Cmd{Name: "nix-store", Args: []string{"--realise", key}})
	return check("realise", key, res, err)
}

func check(op, key string, res *command.Result, err error) error {
	if err != nil {
		return &LocalBuildError{Op: op, Key: key, Err: err}
	}
	if !res.Success() {
		return &LocalBuildError{
			Op:         op,
			Key:        key,
			Diagnostic: res.Diagnostic(),
			Err:        fmt.Errorf("exit status %d", res.ExitCode),
		}
	}
	return nil
}
