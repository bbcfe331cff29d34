package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ominit/nix-relay/internal/channel"
	"github.com/ominit/nix-relay/internal/ctxlog"
	"github.com/ominit/nix-relay/internal/protocol"
	uuid "github.com/satori/go.uuid"
)

// jobQueueSize bounds the builds a relay may dispatch ahead of the one
// currently running.
const jobQueueSize = 64

var errConnectionLost = errors.New("relay connection lost")

// Store adds derivations to and builds them in the local store.
type Store interface {
	Add(ctx context.Context, key string, obj []byte) error
	Realise(ctx context.Context, key string) error
}

// Uploader copies finished artifacts to the shared cache.
type Uploader interface {
	Push(ctx context.Context, key string) error
}

// Config tunes the worker loop.
type Config struct {
	// RetryBackoff is the pause between connection attempts and before
	// reconnecting after a lost session.
	RetryBackoff time.Duration
	// MaxAddRounds caps the passes made over a payload's derivations
	// when some cannot be added until others are.
	MaxAddRounds int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{RetryBackoff: 5 * time.Second, MaxAddRounds: 10}
}

// Worker executes builds dispatched by the relay, one at a time.
type Worker struct {
	url      string
	dialer   channel.Dialer
	store    Store
	uploader Uploader
	cfg      Config
	state    atomic.Int32
	builds   atomic.Int64
}

// New creates a Worker that connects to url through dialer.
func New(url string, dialer channel.Dialer, store Store, uploader Uploader, cfg Config) *Worker {
	if cfg.MaxAddRounds < 1 {
		cfg.MaxAddRounds = DefaultConfig().MaxAddRounds
	}
	return &Worker{url: url, dialer: dialer, store: store, uploader: uploader, cfg: cfg}
}

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Builds returns the number of builds attempted so far.
func (w *Worker) Builds() int64 { return w.builds.Load() }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

// Run serves builds until ctx is cancelled. It only returns once ctx is
// done.
func (w *Worker) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Worker starting", "url", w.url)

	for {
		err := w.session(ctx)
		w.setState(Disconnected)
		if ctx.Err() != nil {
			logger.Info("Worker stopped")
			return nil
		}
		logger.Warn("Session ended, reconnecting", "error", err, "backoff", w.cfg.RetryBackoff)
		if !sleep(ctx, w.cfg.RetryBackoff) {
			logger.Info("Worker stopped")
			return nil
		}
	}
}

// session runs one connection lifetime: connect, register, serve.
func (w *Worker) session(ctx context.Context) error {
	id, err := uuid.NewV4()
	if err == nil {
		ctx = ctxlog.With(ctx, "worker_session", id.String())
	}
	logger := ctxlog.FromContext(ctx)

	inbox := &inbox{jobs: make(chan protocol.Job, jobQueueSize)}
	conn := channel.New(w.url, w.dialer, inbox)
	inbox.conn = conn

	w.setState(Connecting)
	for {
		err := conn.Connect(ctx)
		if err == nil {
			break
		}
		logger.Warn("Could not connect to relay", "error", err, "backoff", w.cfg.RetryBackoff)
		if !sleep(ctx, w.cfg.RetryBackoff) {
			return ctx.Err()
		}
	}
	defer conn.Disconnect(ctx)
	done := conn.Done()

	if err := conn.Send(ctx, protocol.VerbRegister); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	w.setState(Idle)
	logger.Info("Registered with relay")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return errConnectionLost
		case job := <-inbox.jobs:
			w.setState(Building)
			ok := w.build(ctx, job)
			if err := conn.Send(ctx, protocol.EncodeComplete(ok, job.Key)); err != nil {
				return fmt.Errorf("failed to report %s: %w", job.Key, err)
			}
			w.setState(Idle)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// inbox queues dispatched jobs for the session loop.
type inbox struct {
	jobs chan protocol.Job
	conn *channel.Conn
}

func (in *inbox) HandleMessage(ctx context.Context, frame string) {
	logger := ctxlog.FromContext(ctx)
	if protocol.Verb(frame) != protocol.VerbRequestBuild {
		logger.Debug("Ignoring frame", "verb", protocol.Verb(frame))
		return
	}
	job, err := protocol.ParseRequestBuild(frame)
	if err != nil {
		logger.Warn("Dropping malformed build request", "error", err)
		return
	}
	select {
	case in.jobs <- job:
	default:
		logger.Warn("Job queue full, rejecting build", "key", job.Key)
		if err := in.conn.Send(ctx, protocol.EncodeComplete(false, job.Key)); err != nil {
			logger.Debug("Could not reject build", "key", job.Key, "error", err)
		}
	}
}

func (in *inbox) HandleClose(ctx context.Context) {
	ctxlog.FromContext(ctx).Debug("Relay connection closed", "queued", len(in.jobs))
}
