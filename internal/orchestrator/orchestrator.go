package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ominit/nix-relay/internal/ctxlog"
	"github.com/ominit/nix-relay/internal/dag"
	"github.com/ominit/nix-relay/internal/derivation"
	"github.com/ominit/nix-relay/internal/protocol"
	uuid "github.com/satori/go.uuid"
	"golang.org/x/sync/errgroup"
)

// Config tunes connection and request handling.
type Config struct {
	// ConnectAttempts is the number of initial connection attempts.
	ConnectAttempts int
	// ConnectBackoff is the pause between connection attempts.
	ConnectBackoff time.Duration
	// RequestTimeout bounds the wait for one remote build. Zero waits
	// until the relay answers or the connection drops.
	RequestTimeout time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		ConnectAttempts: 5,
		ConnectBackoff:  2 * time.Second,
	}
}

// Orchestrator builds derivation graphs using the relay, falling back to
// the local store.
type Orchestrator struct {
	resolver Resolver
	local    LocalStore
	transfer Transfer
	conn     Channel
	waiters  Waiters
	cfg      Config
}

// New creates an Orchestrator. conn must deliver completion frames to
// waiters.
func New(resolver Resolver, local LocalStore, transfer Transfer, conn Channel, waiters Waiters, cfg Config) *Orchestrator {
	if cfg.ConnectAttempts < 1 {
		cfg.ConnectAttempts = 1
	}
	return &Orchestrator{
		resolver: resolver,
		local:    local,
		transfer: transfer,
		conn:     conn,
		waiters:  waiters,
		cfg:      cfg,
	}
}

// Report describes a finished invocation.
type Report struct {
	Session string
	Root    string
	Nodes   int
	Stats   Stats
}

// run holds the state of one invocation.
type run struct {
	*Orchestrator
	nodes   *dag.Set
	stats   counters
	uploads sync.WaitGroup
}

// Build resolves ref and makes its root derivation's outputs available
// locally. Resolution or connection failures at the root are returned
// as-is; a failed node returns the error that made its local build fail.
func (o *Orchestrator) Build(ctx context.Context, ref string) (*Report, error) {
	session := newSessionID()
	ctx = ctxlog.With(ctx, "session", session)
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	logger.Info("Resolving build reference", "ref", ref)
	root, err := o.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	if err := o.connect(ctx); err != nil {
		return nil, err
	}
	defer o.conn.Disconnect(ctx)

	r := &run{Orchestrator: o, nodes: dag.New()}
	node, _ := r.nodes.Claim(root.Key)
	r.nodes.SetDerivation(root.Key, root)
	err = r.process(ctx, root)
	node.Finish(err)

	// Best-effort uploads may still be running.
	r.uploads.Wait()

	report := &Report{
		Session: session,
		Root:    root.Key,
		Nodes:   r.nodes.Len(),
		Stats:   r.stats.snapshot(),
	}
	logger.Info("Build finished",
		"root", root.Key,
		"ok", err == nil,
		"nodes", report.Nodes,
		"local_hits", report.Stats.LocalHits,
		"cache_hits", report.Stats.CacheHits,
		"remote_builds", report.Stats.RemoteBuilds,
		"fallbacks", report.Stats.Fallbacks,
		"failures", report.Stats.Failures,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return report, err
}

func newSessionID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return id.String()
}

// connect opens the relay connection, retrying with a fixed backoff.
func (o *Orchestrator) connect(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	var err error
	for attempt := 1; attempt <= o.cfg.ConnectAttempts; attempt++ {
		if err = o.conn.Connect(ctx); err == nil {
			return nil
		}
		logger.Warn("Relay connection attempt failed", "attempt", attempt, "of", o.cfg.ConnectAttempts, "error", err)
		if attempt == o.cfg.ConnectAttempts {
			break
		}
		select {
		case <-time.After(o.cfg.ConnectBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// process makes one claimed node available locally.
func (r *run) process(ctx context.Context, drv *derivation.Derivation) error {
	// Dependencies start from parent so every log line names one key.
	parent := ctx
	ctx = ctxlog.With(ctx, "key", drv.Key)
	logger := ctxlog.FromContext(ctx)

	if r.local.Exists(ctx, drv.PrimaryOutput()) {
		logger.Debug("Output already in local store")
		r.nodes.MarkLocal(drv.Key)
		r.stats.localHits.Add(1)
		r.upload(ctx, drv.Key)
		return nil
	}

	err := r.transfer.Pull(ctx, drv.Key)
	if err == nil {
		logger.Debug("Pulled output from remote cache")
		r.nodes.MarkRemote(drv.Key)
		r.stats.cacheHits.Add(1)
		return nil
	}
	logger.Debug("Output not available from remote cache", "error", err)

	if err := r.buildDependencies(parent, drv); err != nil {
		r.stats.failures.Add(1)
		return fmt.Errorf("dependencies of %s failed: %w", drv.Key, err)
	}

	if r.remoteBuild(ctx, drv) {
		r.stats.remoteBuilds.Add(1)
		if err := r.transfer.Pull(ctx, drv.Key); err != nil {
			logger.Warn("Could not pull remotely built output", "error", err)
		} else {
			r.nodes.MarkRemote(drv.Key)
		}
		return nil
	}

	logger.Info("Building locally")
	r.stats.fallbacks.Add(1)
	if err := r.local.Realise(ctx, drv.Key); err != nil {
		r.stats.failures.Add(1)
		logger.Error("Local build failed", "error", err)
		return err
	}
	r.nodes.MarkLocal(drv.Key)
	r.upload(ctx, drv.Key)
	return nil
}

// buildDependencies starts a task for every dependency this node owns and
// waits for all dependencies, owned or not, to finish.
func (r *run) buildDependencies(ctx context.Context, drv *derivation.Derivation) error {
	var g errgroup.Group

	for _, depKey := range drv.Dependencies {
		node, owner := r.nodes.Claim(depKey)
		if err := r.nodes.Link(drv.Key, depKey); err != nil {
			if owner {
				node.Finish(err)
			}
			g.Go(func() error { return err })
			continue
		}
		if owner {
			g.Go(func() error {
				err := r.resolveAndProcess(ctx, depKey)
				node.Finish(err)
				return err
			})
			continue
		}
		g.Go(func() error { return node.Wait(ctx) })
	}
	return g.Wait()
}

func (r *run) resolveAndProcess(ctx context.Context, key string) error {
	drv, err := r.resolver.ResolveByKey(ctx, key)
	if err != nil {
		r.stats.failures.Add(1)
		return err
	}
	r.nodes.SetDerivation(key, drv)
	return r.process(ctx, drv)
}

// remoteBuild submits drv to the relay and reports whether a worker built
// it. Any failure to reach or hear back from the relay counts as false.
func (r *run) remoteBuild(ctx context.Context, drv *derivation.Derivation) bool {
	logger := ctxlog.FromContext(ctx)

	if err := r.conn.EnsureConnected(ctx); err != nil {
		logger.Warn("Relay unavailable", "error", err)
		return false
	}

	result, err := r.waiters.Register(drv.Key)
	if err != nil {
		logger.Error("Could not register build request", "error", err)
		return false
	}
	if err := r.conn.Send(ctx, protocol.EncodeJob(drv.Key, drv.Raw)); err != nil {
		r.waiters.Forget(drv.Key)
		logger.Warn("Could not submit build request", "error", err)
		return false
	}
	logger.Info("Submitted build request")

	var timeout <-chan time.Time
	if r.cfg.RequestTimeout > 0 {
		timer := time.NewTimer(r.cfg.RequestTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ok, delivered := <-result:
		if !delivered {
			logger.Warn("Connection lost before the relay answered")
			return false
		}
		if !ok {
			logger.Warn("Remote build failed")
		}
		return ok
	case <-timeout:
		r.waiters.Forget(drv.Key)
		logger.Warn("Remote build timed out", "timeout", r.cfg.RequestTimeout)
		return false
	case <-ctx.Done():
		r.waiters.Forget(drv.Key)
		return false
	}
}

// upload pushes key to the remote cache in the background.
func (r *run) upload(ctx context.Context, key string) {
	r.uploads.Add(1)
	go func() {
		defer r.uploads.Done()
		if err := r.transfer.Push(ctx, key); err != nil {
			ctxlog.FromContext(ctx).Debug("Upload to remote cache failed", "error", err)
		}
	}()
}
