package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/ominit/nix-relay/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
)

// fileRoot mirrors the top level of the configuration file. Pointers tell
// unset attributes apart from zero values.
type fileRoot struct {
	ServerURL          *string      `hcl:"server_url,optional"`
	Transport          *string      `hcl:"transport,optional"`
	Secure             *bool        `hcl:"secure,optional"`
	InsecureSkipVerify *bool        `hcl:"insecure_skip_verify,optional"`
	LogLevel           *string      `hcl:"log_level,optional"`
	LogFormat          *string      `hcl:"log_format,optional"`
	Client             *clientBlock `hcl:"client,block"`
	Worker             *workerBlock `hcl:"worker,block"`
}

type clientBlock struct {
	ConnectAttempts *int    `hcl:"connect_attempts,optional"`
	ConnectBackoff  *string `hcl:"connect_backoff,optional"`
	RequestTimeout  *string `hcl:"request_timeout,optional"`
}

type workerBlock struct {
	RetryBackoff    *string `hcl:"retry_backoff,optional"`
	MaxAddRounds    *int    `hcl:"max_add_rounds,optional"`
	HealthcheckPort *int    `hcl:"healthcheck_port,optional"`
}

// DefaultPath returns $XDG_CONFIG_HOME/nix-relay/nixr.hcl, falling back
// to ~/.config/nix-relay/nixr.hcl.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot locate the user config directory: %w", err)
	}
	return filepath.Join(dir, "nix-relay", "nixr.hcl"), nil
}

// Load reads the file at path and applies it over Default. The result is
// not validated, so callers can apply overrides first.
func Load(ctx context.Context, path string) (*Config, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading configuration.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(file.Body, evalContext(), &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, diags)
	}

	cfg := Default()
	if err := root.apply(cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	logger.Debug("Configuration loaded.", "server_url", cfg.ServerURL, "transport", cfg.Transport)
	return cfg, nil
}

// evalContext exposes the process environment as the `env` object.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		vars[name] = cty.StringVal(value)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}

func (r *fileRoot) apply(cfg *Config) error {
	setString(&cfg.ServerURL, r.ServerURL)
	setString(&cfg.Transport, r.Transport)
	setBool(&cfg.Secure, r.Secure)
	setBool(&cfg.InsecureSkipVerify, r.InsecureSkipVerify)
	setString(&cfg.LogLevel, r.LogLevel)
	setString(&cfg.LogFormat, r.LogFormat)

	if c := r.Client; c != nil {
		setInt(&cfg.Client.ConnectAttempts, c.ConnectAttempts)
		if err := setDuration(&cfg.Client.ConnectBackoff, "client.connect_backoff", c.ConnectBackoff); err != nil {
			return err
		}
		if err := setDuration(&cfg.Client.RequestTimeout, "client.request_timeout", c.RequestTimeout); err != nil {
			return err
		}
	}
	if w := r.Worker; w != nil {
		if err := setDuration(&cfg.Worker.RetryBackoff, "worker.retry_backoff", w.RetryBackoff); err != nil {
			return err
		}
		setInt(&cfg.Worker.MaxAddRounds, w.MaxAddRounds)
		setInt(&cfg.Worker.HealthcheckPort, w.HealthcheckPort)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, name string, v *string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
