package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nixr.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("minimal file gets defaults", func(t *testing.T) {
		cfg, err := Load(ctx, writeConfig(t, `server_url = "relay.example.com:4000"`))
		require.NoError(t, err)

		expected := Default()
		expected.ServerURL = "relay.example.com:4000"
		if diff := cmp.Diff(expected, cfg); diff != "" {
			t.Errorf("config mismatch (-want +got):\n%s", diff)
		}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("full file", func(t *testing.T) {
		cfg, err := Load(ctx, writeConfig(t, `
			server_url           = "relay:4000"
			transport            = "socketio"
			secure               = true
			insecure_skip_verify = true
			log_level            = "debug"
			log_format           = "json"

			client {
				connect_attempts = 3
				connect_backoff  = "500ms"
				request_timeout  = "10m"
			}

			worker {
				retry_backoff    = "1s"
				max_add_rounds   = 4
				healthcheck_port = 8080
			}
		`))
		require.NoError(t, err)

		expected := &Config{
			ServerURL:          "relay:4000",
			Transport:          TransportSocketIO,
			Secure:             true,
			InsecureSkipVerify: true,
			LogLevel:           "debug",
			LogFormat:          "json",
			Client:             ClientConfig{ConnectAttempts: 3, ConnectBackoff: 500 * time.Millisecond, RequestTimeout: 10 * time.Minute},
			Worker:             WorkerConfig{RetryBackoff: time.Second, MaxAddRounds: 4, HealthcheckPort: 8080},
		}
		if diff := cmp.Diff(expected, cfg); diff != "" {
			t.Errorf("config mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("environment interpolation", func(t *testing.T) {
		t.Setenv("NIX_RELAY_TEST_SERVER", "from-env:9000")
		cfg, err := Load(ctx, writeConfig(t, `server_url = env.NIX_RELAY_TEST_SERVER`))
		require.NoError(t, err)
		assert.Equal(t, "from-env:9000", cfg.ServerURL)

		cfg, err = Load(ctx, writeConfig(t, `server_url = "${env.NIX_RELAY_TEST_SERVER}"`))
		require.NoError(t, err)
		assert.Equal(t, "from-env:9000", cfg.ServerURL)
	})

	t.Run("error cases", func(t *testing.T) {
		_, err := Load(ctx, filepath.Join(t.TempDir(), "missing.hcl"))
		assert.ErrorContains(t, err, "failed to parse config file")

		_, err = Load(ctx, writeConfig(t, `server_url = "x`))
		assert.ErrorContains(t, err, "failed to parse config file")

		_, err = Load(ctx, writeConfig(t, `unknown_setting = 1`))
		assert.ErrorContains(t, err, "failed to decode config file")

		_, err = Load(ctx, writeConfig(t, `server_url = env.NIX_RELAY_DOES_NOT_EXIST_42`))
		assert.ErrorContains(t, err, "failed to decode config file")

		_, err = Load(ctx, writeConfig(t, "worker {\n retry_backoff = \"soon\"\n}"))
		assert.ErrorContains(t, err, "worker.retry_backoff")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.ServerURL = "relay:4000"
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"missing server":   {func(c *Config) { c.ServerURL = "" }, "server_url is required"},
		"server scheme":    {func(c *Config) { c.ServerURL = "ws://relay" }, "without a scheme"},
		"transport":        {func(c *Config) { c.Transport = "carrier-pigeon" }, "invalid transport"},
		"log level":        {func(c *Config) { c.LogLevel = "loud" }, "invalid log_level"},
		"log format":       {func(c *Config) { c.LogFormat = "xml" }, "invalid log_format"},
		"attempts":         {func(c *Config) { c.Client.ConnectAttempts = 0 }, "connect_attempts"},
		"negative":         {func(c *Config) { c.Client.RequestTimeout = -time.Second }, "must not be negative"},
		"add rounds":       {func(c *Config) { c.Worker.MaxAddRounds = 0 }, "max_add_rounds"},
		"healthcheck port": {func(c *Config) { c.Worker.HealthcheckPort = 70000 }, "healthcheck_port"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}

func TestEndpoints(t *testing.T) {
	cfg := Default()
	cfg.ServerURL = "relay:4000"

	assert.Equal(t, "ws://relay:4000/client", cfg.ChannelURL(RoleClient))
	assert.Equal(t, "ws://relay:4000/worker", cfg.ChannelURL(RoleWorker))
	assert.Equal(t, "http://relay:4000", cfg.CacheURL())

	cfg.Secure = true
	assert.Equal(t, "wss://relay:4000/client", cfg.ChannelURL(RoleClient))
	assert.Equal(t, "https://relay:4000", cfg.CacheURL())

	cfg.Transport = TransportSocketIO
	assert.Equal(t, "https://relay:4000/socket.io/", cfg.ChannelURL(RoleWorker))
	assert.Equal(t, "/worker", cfg.Namespace(RoleWorker))
}

func TestDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nix-relay", "nixr.hcl"), path)
}
