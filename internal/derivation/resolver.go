package derivation

import (
	"context"
	"fmt"

	"github.com/ominit/nix-relay/internal/command"
	"github.com/ominit/nix-relay/internal/ctxlog"
)

// ResolutionError reports a resolver failure or unparseable resolver output.
type ResolutionError struct {
	Ref        string
	Diagnostic string
	Err        error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("failed to resolve %s", e.Ref)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += "\n" + e.Diagnostic
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Resolver turns build references and keys into derivations by invoking
// `nix derivation show`.
type Resolver struct {
	runner command.Runner
	binary string
}

// NewResolver creates a resolver that runs the nix binary through runner.
func NewResolver(runner command.Runner) *Resolver {
	return &Resolver{runner: runner, binary: "nix"}
}

// Resolve resolves a flake or build reference to its root derivation.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Derivation, error) {
	return r.show(ctx, ref)
}

// ResolveByKey resolves a derivation by its key.
func (r *Resolver) ResolveByKey(ctx context.Context, key string) (*Derivation, error) {
	return r.show(ctx, key)
}

func (r *Resolver) show(ctx context.Context, arg string) (*Derivation, error) {
	logger := ctxlog.FromContext(ctx)
	res, err := r.runner.Run(ctx, command.Cmd{Name: r.binary, Args: []string{"derivation", "show", arg}})
	if err != nil {
		return nil, &ResolutionError{Ref: arg, Err: err}
	}
	if !res.Success() {
		return nil, &ResolutionError{
			Ref:        arg,
			Diagnostic: res.Diagnostic(),
			Err:        fmt.Errorf("resolver exited with status %d", res.ExitCode),
		}
	}

	drv, err := Parse(res.Stdout)
	if err != nil {
		return nil, &ResolutionError{Ref: arg, Err: err}
	}
	logger.Debug("Resolved derivation.", "ref", arg, "key", drv.Key, "deps", len(drv.Dependencies))
	return drv, nil
}
