package app

import (
	"context"
	"fmt"

	"github.com/ominit/nix-relay/internal/channel"
	"github.com/ominit/nix-relay/internal/command"
	"github.com/ominit/nix-relay/internal/config"
	"github.com/ominit/nix-relay/internal/correlator"
	"github.com/ominit/nix-relay/internal/ctxlog"
	"github.com/ominit/nix-relay/internal/derivation"
	"github.com/ominit/nix-relay/internal/orchestrator"
	"github.com/ominit/nix-relay/internal/store"
)

// plan is what one client command does: orchestrate target (if any), then
// hand off to handoff (if any).
type plan struct {
	target  string
	handoff *command.Cmd
}

func (a *App) planFor(cmd Command) (plan, error) {
	switch cmd.Kind {
	case CommandBuild:
		return plan{target: cmd.Ref}, nil
	case CommandRun:
		h := store.RunCommand(cmd.Ref)
		return plan{target: cmd.Ref, handoff: &h}, nil
	case CommandDevelop:
		h := store.DevelopCommand(cmd.Ref)
		return plan{target: cmd.Ref, handoff: &h}, nil
	case CommandRebuild:
		h := store.RebuildCommand(cmd.RebuildType, cmd.Ref)
		p := plan{handoff: &h}
		if systemBuildingTypes[cmd.RebuildType] {
			host, err := a.hostname()
			if err != nil {
				return plan{}, fmt.Errorf("failed to determine hostname: %w", err)
			}
			p.target = systemRef(cmd.Ref, host)
		}
		return p, nil
	}
	return plan{}, fmt.Errorf("unknown command %q", cmd.Kind)
}

// RunClient executes one client command and returns the process exit code.
// A failed build returns a non-nil error; a handoff's own exit status is
// returned as the code.
func (a *App) RunClient(ctx context.Context, cmd Command) (int, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.RunClient started.", "command", cmd.Kind, "ref", cmd.Ref)

	p, err := a.planFor(cmd)
	if err != nil {
		return 1, err
	}

	if p.target != "" {
		if _, err := a.newOrchestrator().Build(ctx, p.target); err != nil {
			return 1, err
		}
	}

	if p.handoff == nil {
		return 0, nil
	}
	a.logger.Info("Handing off", "cmd", p.handoff.String())
	code, err := a.handoff(ctx, *p.handoff)
	if err != nil {
		return 1, err
	}
	return code, nil
}

func (a *App) newOrchestrator() *orchestrator.Orchestrator {
	waiters := correlator.New()
	conn := channel.New(a.config.ChannelURL(config.RoleClient), a.dialer(config.RoleClient), waiters)
	return orchestrator.New(
		derivation.NewResolver(a.runner),
		store.NewLocal(a.runner),
		store.NewTransfer(a.runner, a.config.CacheURL()),
		conn,
		waiters,
		orchestrator.Config{
			ConnectAttempts: a.config.Client.ConnectAttempts,
			ConnectBackoff:  a.config.Client.ConnectBackoff,
			RequestTimeout:  a.config.Client.RequestTimeout,
		},
	)
}
