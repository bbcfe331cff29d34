package orchestrator

import (
	"context"

	"github.com/ominit/nix-relay/internal/derivation"
)

// Resolver turns references and keys into derivations.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*derivation.Derivation, error)
	ResolveByKey(ctx context.Context, key string) (*derivation.Derivation, error)
}

// LocalStore checks for and builds outputs on this machine.
type LocalStore interface {
	Exists(ctx context.Context, path string) bool
	Realise(ctx context.Context, key string) error
}

// Transfer copies artifacts to and from the remote cache.
type Transfer interface {
	Pull(ctx context.Context, key string) error
	Push(ctx context.Context, key string) error
}

// Channel is the connection to the relay.
type Channel interface {
	Connect(ctx context.Context) error
	EnsureConnected(ctx context.Context) error
	Send(ctx context.Context, frame string) error
	Disconnect(ctx context.Context)
}

// Waiters correlates submitted jobs with their completion frames.
type Waiters interface {
	Register(key string) (<-chan bool, error)
	Forget(key string)
}
