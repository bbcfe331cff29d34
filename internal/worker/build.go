package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ominit/nix-relay/internal/ctxlog"
	"github.com/ominit/nix-relay/internal/derivation"
	"github.com/ominit/nix-relay/internal/protocol"
)

// build adds the job's derivations, realises the requested key and
// uploads the result. It reports whether all of that succeeded.
func (w *Worker) build(ctx context.Context, job protocol.Job) bool {
	w.builds.Add(1)
	ctx = ctxlog.With(ctx, "key", job.Key)
	logger := ctxlog.FromContext(ctx)
	start := time.Now()
	logger.Info("Build started")

	objs, err := derivation.Split(job.Payload)
	if err != nil {
		logger.Warn("Rejecting build payload", "error", err)
		return false
	}
	if err := w.addAll(ctx, objs); err != nil {
		logger.Warn("Could not add derivations", "error", err)
		return false
	}
	if err := w.store.Realise(ctx, job.Key); err != nil {
		logger.Warn("Build failed", "error", err, "duration", time.Since(start).Round(time.Millisecond))
		return false
	}
	if err := w.uploader.Push(ctx, job.Key); err != nil {
		logger.Warn("Upload failed", "error", err)
		return false
	}
	logger.Info("Build succeeded", "duration", time.Since(start).Round(time.Millisecond))
	return true
}

// addAll submits every object, retrying the ones the store refuses until
// they are accepted, a round makes no progress, or the round cap is hit.
func (w *Worker) addAll(ctx context.Context, objs []derivation.Object) error {
	logger := ctxlog.FromContext(ctx)
	pending := objs

	for round := 1; len(pending) > 0; round++ {
		if round > w.cfg.MaxAddRounds {
			return fmt.Errorf("%d derivations still refused after %d rounds", len(pending), w.cfg.MaxAddRounds)
		}

		var refused []derivation.Object
		var lastErr error
		for _, obj := range pending {
			if err := w.store.Add(ctx, obj.Key, obj.JSON); err != nil {
				refused = append(refused, obj)
				lastErr = err
			}
		}
		if len(refused) == len(pending) {
			return fmt.Errorf("round %d added none of %d derivations: %w", round, len(pending), lastErr)
		}
		if len(refused) > 0 {
			logger.Debug("Retrying refused derivations", "round", round, "refused", len(refused))
		}
		pending = refused
	}
	return nil
}
