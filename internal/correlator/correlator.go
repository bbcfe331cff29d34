// Package correlator matches asynchronous completion frames from the relay
// to the callers waiting on them, keyed by derivation path.
package correlator

import (
	"context"
	"fmt"
	"sync"

	"github.com/ominit/nix-relay/internal/ctxlog"
	"github.com/ominit/nix-relay/internal/protocol"
)

// DuplicateKeyError is returned when a key already has a pending waiter.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("a request for %s is already pending", e.Key)
}

// Correlator holds one single-use waiter per in-flight key. A waiter
// channel yields exactly one value and is then closed; a channel closed
// without a value means the connection was lost before the relay answered.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan bool
}

// New creates an empty Correlator.
func New() *Correlator {
	return &Correlator{pending: make(map[string]chan bool)}
}

// Register creates the waiter for key. Callers must register before
// sending the request so a fast reply cannot be lost.
func (c *Correlator) Register(key string) (<-chan bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[key]; exists {
		return nil, &DuplicateKeyError{Key: key}
	}
	ch := make(chan bool, 1)
	c.pending[key] = ch
	return ch, nil
}

// Dispatch resolves the waiter named by an inbound "<key> <bool>" frame.
// Malformed frames and frames for unknown keys are logged and dropped.
func (c *Correlator) Dispatch(ctx context.Context, frame string) {
	logger := ctxlog.FromContext(ctx)

	completion, err := protocol.ParseCompletion(frame)
	if err != nil {
		logger.Warn("Dropping malformed completion frame", "error", err)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[completion.Key]
	if ok {
		delete(c.pending, completion.Key)
	}
	c.mu.Unlock()

	if !ok {
		logger.Debug("Dropping completion for unknown key", "key", completion.Key)
		return
	}
	ch <- completion.Success
	close(ch)
}

// Forget discards the waiter for key, if any. A later completion for the
// key is treated as unknown.
func (c *Correlator) Forget(key string) {
	c.mu.Lock()
	ch, ok := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Clear drops every waiter. Each waiting caller observes a closed channel.
func (c *Correlator) Clear() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan bool)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

// Pending reports the number of unresolved waiters.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// HandleMessage routes every inbound frame to Dispatch.
func (c *Correlator) HandleMessage(ctx context.Context, frame string) {
	c.Dispatch(ctx, frame)
}

// HandleClose clears all waiters when the connection ends.
func (c *Correlator) HandleClose(ctx context.Context) {
	if n := c.Pending(); n > 0 {
		ctxlog.FromContext(ctx).Warn("Connection closed with requests in flight", "pending", n)
	}
	c.Clear()
}
