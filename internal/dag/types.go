package dag

import (
	"sync"

	"github.com/ominit/nix-relay/internal/derivation"
)

// Set is the shared Node Set. All operations are concurrency-safe and
// every read-modify-write sequence runs under the single mutex.
type Set struct {
	mutex sync.RWMutex
	nodes map[string]*Node
}

// Node is one entry of the Set. Its fields are only reachable through the
// Set's API so that flag updates always hold the Set's lock.
type Node struct {
	key string
	drv *derivation.Derivation

	// Transient observations made during this run.
	existsLocally  bool
	existsRemotely bool

	// deps holds the nodes this node requires (predecessors).
	deps map[string]*Node
	// dependents holds the nodes that require this node (successors).
	dependents map[string]*Node

	done   chan struct{}
	finish sync.Once
	err    error
}
