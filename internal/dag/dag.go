package dag

import (
	"context"
	"fmt"
	"sort"

	"github.com/ominit/nix-relay/internal/derivation"
)

// New creates and returns an initialized, empty Set.
func New() *Set {
	return &Set{
		nodes: make(map[string]*Node),
	}
}

// Claim looks up key and inserts it if absent, as one atomic step. The
// returned bool is true only for the caller that inserted the node; that
// caller owns the build and must call Finish exactly once.
func (s *Set) Claim(key string) (*Node, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if n, ok := s.nodes[key]; ok {
		return n, false
	}
	n := &Node{
		key:        key,
		deps:       make(map[string]*Node),
		dependents: make(map[string]*Node),
		done:       make(chan struct{}),
	}
	s.nodes[key] = n
	return n, true
}

// Get returns the node for key, if present.
func (s *Set) Get(key string) (*Node, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	n, ok := s.nodes[key]
	return n, ok
}

// Len returns the number of nodes in the set.
func (s *Set) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.nodes)
}

// Keys returns every key in the set, sorted.
func (s *Set) Keys() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	keys := make([]string, 0, len(s.nodes))
	for k := range s.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Link records that dependent requires dep. Both keys must already be in
// the set. It fails with a *CycleError if dep already depends, directly or
// transitively, on dependent.
func (s *Set) Link(dependent, dep string) error {
	if dependent == dep {
		return &CycleError{Path: []string{dep, dep}}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	from, ok := s.nodes[dep]
	if !ok {
		return fmt.Errorf("dependency node not found: %s", dep)
	}
	to, ok := s.nodes[dependent]
	if !ok {
		return fmt.Errorf("dependent node not found: %s", dependent)
	}

	if path := pathTo(from, dependent, map[string]bool{}); path != nil {
		return &CycleError{Path: append([]string{dependent}, path...)}
	}

	to.deps[dep] = from
	from.dependents[dependent] = to
	return nil
}

// pathTo returns the chain of keys from n down its dependencies to target,
// or nil if target is unreachable. Callers hold the lock.
func pathTo(n *Node, target string, seen map[string]bool) []string {
	if n.key == target {
		return []string{n.key}
	}
	if seen[n.key] {
		return nil
	}
	seen[n.key] = true
	for _, d := range n.deps {
		if rest := pathTo(d, target, seen); rest != nil {
			return append([]string{n.key}, rest...)
		}
	}
	return nil
}

// Dependencies returns the sorted keys that the given node depends on.
func (s *Set) Dependencies(key string) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	n, ok := s.nodes[key]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", key)
	}
	return sortedKeys(n.deps), nil
}

// Dependents returns the sorted keys that depend on the given node.
func (s *Set) Dependents(key string) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	n, ok := s.nodes[key]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", key)
	}
	return sortedKeys(n.dependents), nil
}

func sortedKeys(m map[string]*Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DetectCycles checks the whole set for cycles. Link already refuses
// cycle-closing edges, so this is a consistency check over the final graph.
func (s *Set) DetectCycles() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	// permanent: fully visited and known acyclic.
	// temporary: on the current DFS stack.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *Node) error
	visit = func(n *Node) error {
		if permanent[n.key] {
			return nil
		}
		if temporary[n.key] {
			return fmt.Errorf("cycle detected involving node '%s'", n.key)
		}
		temporary[n.key] = true
		for _, dependent := range n.dependents {
			if err := visit(dependent); err != nil {
				return err
			}
		}
		delete(temporary, n.key)
		permanent[n.key] = true
		return nil
	}

	for _, n := range s.nodes {
		if !permanent[n.key] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetDerivation attaches the resolved derivation to a node.
func (s *Set) SetDerivation(key string, drv *derivation.Derivation) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if n, ok := s.nodes[key]; ok {
		n.drv = drv
	}
}

// Derivation returns the resolved derivation for key, or nil.
func (s *Set) Derivation(key string) *derivation.Derivation {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if n, ok := s.nodes[key]; ok {
		return n.drv
	}
	return nil
}

// MarkLocal records that key's output exists in the local store.
func (s *Set) MarkLocal(key string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if n, ok := s.nodes[key]; ok {
		n.existsLocally = true
	}
}

// MarkRemote records that key's output exists both in the remote cache
// and, having been pulled, locally.
func (s *Set) MarkRemote(key string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if n, ok := s.nodes[key]; ok {
		n.existsLocally = true
		n.existsRemotely = true
	}
}

// Flags returns the existence observations recorded for key.
func (s *Set) Flags(key string) (existsLocally, existsRemotely bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if n, ok := s.nodes[key]; ok {
		return n.existsLocally, n.existsRemotely
	}
	return false, false
}

// Key returns the node's store path.
func (n *Node) Key() string { return n.key }

// Finish records the node's terminal outcome and releases every waiter.
// Only the first call has an effect.
func (n *Node) Finish(err error) {
	n.finish.Do(func() {
		n.err = err
		close(n.done)
	})
}

// Done is closed once the node has finished.
func (n *Node) Done() <-chan struct{} { return n.done }

// Wait blocks until the node finishes and returns its outcome.
func (n *Node) Wait(ctx context.Context) error {
	select {
	case <-n.done:
		return n.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
