package app

import (
	"context"

	"github.com/ominit/nix-relay/internal/config"
	"github.com/ominit/nix-relay/internal/ctxlog"
	"github.com/ominit/nix-relay/internal/store"
	"github.com/ominit/nix-relay/internal/worker"
)

// RunWorker serves builds until ctx is cancelled. healthcheckPort, when
// positive, overrides the configured port.
func (a *App) RunWorker(ctx context.Context, healthcheckPort int) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.RunWorker started.")

	w := worker.New(
		a.config.ChannelURL(config.RoleWorker),
		a.dialer(config.RoleWorker),
		store.NewLocal(a.runner),
		store.NewTransfer(a.runner, a.config.CacheURL()),
		worker.Config{
			RetryBackoff: a.config.Worker.RetryBackoff,
			MaxAddRounds: a.config.Worker.MaxAddRounds,
		},
	)

	port := a.config.Worker.HealthcheckPort
	if healthcheckPort > 0 {
		port = healthcheckPort
	}
	a.startHealthcheckServer(ctx, port, w)
	defer a.closeHealthcheckServer(ctx)

	return w.Run(ctx)
}
