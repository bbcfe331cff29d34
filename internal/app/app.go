package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/ominit/nix-relay/internal/channel"
	"github.com/ominit/nix-relay/internal/command"
	"github.com/ominit/nix-relay/internal/config"
	"github.com/ominit/nix-relay/internal/ctxlog"
)

// HandoffFunc runs an interactive tool after a build and returns its exit
// code.
type HandoffFunc func(ctx context.Context, cmd command.Cmd) (int, error)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *config.Config
	runner   command.Runner
	handoff  HandoffFunc
	hostname func() (string, error)

	httpServer *http.Server
}

// Option customizes an App, mostly for tests.
type Option func(*App)

// WithRunner replaces the process runner used for every nix invocation.
func WithRunner(r command.Runner) Option {
	return func(a *App) { a.runner = r }
}

// WithHandoff replaces the function that hands control to nix tools.
func WithHandoff(h HandoffFunc) Option {
	return func(a *App) { a.handoff = h }
}

// WithHostname replaces the hostname lookup used by `rebuild`.
func WithHostname(fn func() (string, error)) Option {
	return func(a *App) { a.hostname = fn }
}

// NewApp is the constructor for the main application. It loads and
// validates the configuration and panics if that fails; the binaries
// recover and report the panic as a startup error.
func NewApp(outW io.Writer, opts *Options, options ...Option) *App {
	cfg, err := loadConfig(context.Background(), opts)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	a := &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		runner:   command.ExecRunner{},
		hostname: os.Hostname,
		handoff: func(ctx context.Context, cmd command.Cmd) (int, error) {
			return command.Attached(ctx, cmd, os.Stdin, os.Stdout, os.Stderr)
		},
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// Config returns the effective configuration.
func (a *App) Config() *config.Config {
	return a.config
}

// loadConfig reads the configuration file and applies flag overrides. A
// missing file is only an error when its path was given explicitly.
func loadConfig(ctx context.Context, opts *Options) (*config.Config, error) {
	path := opts.ConfigPath
	explicit := path != ""
	if !explicit {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	var cfg *config.Config
	if _, err := os.Stat(path); !explicit && errors.Is(err, fs.ErrNotExist) {
		ctxlog.FromContext(ctx).Debug("No configuration file, using defaults.", "path", path)
		cfg = config.Default()
	} else {
		cfg, err = config.Load(ctx, path)
		if err != nil {
			return nil, err
		}
	}

	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}
	if opts.ServerURL != "" {
		cfg.ServerURL = opts.ServerURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w (config file: %s)", err, path)
	}
	return cfg, nil
}

// dialer builds the transport dialer for role.
func (a *App) dialer(role config.Role) channel.Dialer {
	if a.config.Transport == config.TransportSocketIO {
		return &channel.SocketIODialer{
			Namespace:          a.config.Namespace(role),
			InsecureSkipVerify: a.config.InsecureSkipVerify,
		}
	}
	d := &channel.WebsocketDialer{}
	if a.config.InsecureSkipVerify {
		a.logger.Warn("Skipping TLS certificate verification")
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return d
}
