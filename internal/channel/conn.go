package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ominit/nix-relay/internal/ctxlog"
)

// State is the lifecycle state of a Conn.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Transport is one open bidirectional text-frame connection.
type Transport interface {
	// WriteText sends one text frame.
	WriteText(text string) error
	// ReadText blocks until the next text frame arrives or the
	// connection ends, in which case it returns an error.
	ReadText() (string, error)
	// Shutdown asks the peer to close the connection.
	Shutdown() error
	// Close tears the connection down immediately.
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// Handler receives inbound frames and the end-of-connection notification.
// Both methods run on the receive goroutine and must not block for long.
type Handler interface {
	HandleMessage(ctx context.Context, frame string)
	HandleClose(ctx context.Context)
}

// DefaultCloseGrace bounds how long Disconnect waits for the peer to
// acknowledge a close before dropping the connection.
const DefaultCloseGrace = 2 * time.Second

// Conn is a reconnectable connection to one relay endpoint.
type Conn struct {
	url        string
	dialer     Dialer
	handler    Handler
	closeGrace time.Duration

	// lifecycle serializes Connect and Disconnect.
	lifecycle sync.Mutex
	// sendMu keeps frames from interleaving on the wire.
	sendMu sync.Mutex
	state  atomic.Int32

	mu        sync.Mutex
	transport Transport
	done      chan struct{}
}

// Option configures a Conn.
type Option func(*Conn)

// WithCloseGrace overrides DefaultCloseGrace.
func WithCloseGrace(d time.Duration) Option {
	return func(c *Conn) { c.closeGrace = d }
}

// New creates a disconnected Conn.
func New(url string, dialer Dialer, handler Handler, opts ...Option) *Conn {
	c := &Conn{
		url:        url,
		dialer:     dialer,
		handler:    handler,
		closeGrace: DefaultCloseGrace,
	}
	for _, opt := range opts {
		opt(c)
	}
	closed := make(chan struct{})
	close(closed)
	c.done = closed
	return c
}

// URL returns the endpoint this Conn dials.
func (c *Conn) URL() string { return c.url }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Connected reports whether the Conn is in the Connected state.
func (c *Conn) Connected() bool { return c.State() == Connected }

// Done returns a channel that is closed once the current connection's
// receive loop has finished. For a Conn that never connected the channel
// is already closed.
func (c *Conn) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Connect opens a fresh connection, tearing down any existing one first.
func (c *Conn) Connect(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.disconnectLocked(ctx)
	return c.connectLocked(ctx)
}

// EnsureConnected connects only if the Conn is not already connected.
func (c *Conn) EnsureConnected(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.Connected() {
		return nil
	}
	c.disconnectLocked(ctx)
	return c.connectLocked(ctx)
}

func (c *Conn) connectLocked(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx).With("url", c.url)
	c.state.Store(int32(Connecting))
	logger.Debug("Connecting to relay")

	t, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		c.state.Store(int32(Disconnected))
		return &ConnectError{URL: c.url, Err: err}
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.transport = t
	c.done = done
	c.mu.Unlock()
	c.state.Store(int32(Connected))
	logger.Info("Connected to relay")

	// The receive loop outlives the dial context.
	loopCtx := context.WithoutCancel(ctx)
	go c.receive(loopCtx, t, done)
	return nil
}

func (c *Conn) receive(ctx context.Context, t Transport, done chan struct{}) {
	logger := ctxlog.FromContext(ctx)
	defer close(done)

	for {
		frame, err := t.ReadText()
		if err != nil {
			logger.Debug("Receive loop ended", "error", err)
			break
		}
		c.handler.HandleMessage(ctx, frame)
	}

	c.state.Store(int32(Disconnected))
	_ = t.Close()
	logger.Info("Disconnected from relay", "url", c.url)
	c.handler.HandleClose(ctx)
}

// Send writes one text frame. It fails with ErrNotConnected when no
// connection is open.
func (c *Conn) Send(ctx context.Context, frame string) error {
	if !c.Connected() {
		return &SendError{Err: ErrNotConnected}
	}

	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return &SendError{Err: ErrNotConnected}
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := t.WriteText(frame); err != nil {
		return &SendError{Err: err}
	}
	return nil
}

// Disconnect closes the connection and waits for the receive loop to
// finish. Calling it on a disconnected Conn is a no-op.
func (c *Conn) Disconnect(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.disconnectLocked(ctx)
}

func (c *Conn) disconnectLocked(ctx context.Context) {
	c.mu.Lock()
	t, done := c.transport, c.done
	c.transport = nil
	c.mu.Unlock()
	if t == nil {
		return
	}

	logger := ctxlog.FromContext(ctx).With("url", c.url)
	logger.Debug("Closing relay connection")
	if err := t.Shutdown(); err != nil {
		logger.Debug("Close handshake failed", "error", err)
		_ = t.Close()
	}

	timer := time.NewTimer(c.closeGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Warn("Relay did not acknowledge close, dropping connection", "grace", c.closeGrace)
		_ = t.Close()
		<-done
	}
	c.state.Store(int32(Disconnected))
}
