package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Transports understood by the channel layer.
const (
	TransportWebsocket = "websocket"
	TransportSocketIO  = "socketio"
)

// Role selects the relay endpoint a process talks to.
type Role string

const (
	RoleClient Role = "client"
	RoleWorker Role = "worker"
)

// Config is the validated configuration for both binaries.
type Config struct {
	// ServerURL is the relay address as host[:port], without a scheme.
	ServerURL          string
	Transport          string
	Secure             bool
	InsecureSkipVerify bool
	LogLevel           string
	LogFormat          string

	Client ClientConfig
	Worker WorkerConfig
}

// ClientConfig holds settings for `nixr`.
type ClientConfig struct {
	ConnectAttempts int
	ConnectBackoff  time.Duration
	RequestTimeout  time.Duration
}

// WorkerConfig holds settings for `nixr-worker`.
type WorkerConfig struct {
	RetryBackoff    time.Duration
	MaxAddRounds    int
	HealthcheckPort int
}

// Default returns a Config with every optional setting filled in.
func Default() *Config {
	return &Config{
		Transport: TransportWebsocket,
		LogLevel:  "info",
		LogFormat: "text",
		Client: ClientConfig{
			ConnectAttempts: 5,
			ConnectBackoff:  2 * time.Second,
		},
		Worker: WorkerConfig{
			RetryBackoff: 5 * time.Second,
			MaxAddRounds: 10,
		},
	}
}

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	var errs []error

	switch {
	case c.ServerURL == "":
		errs = append(errs, errors.New("server_url is required"))
	case strings.Contains(c.ServerURL, "://"):
		errs = append(errs, fmt.Errorf("server_url %q must be host[:port] without a scheme; use secure = true for TLS", c.ServerURL))
	}

	switch c.Transport {
	case TransportWebsocket, TransportSocketIO:
	default:
		errs = append(errs, fmt.Errorf("invalid transport %q: must be '%s' or '%s'", c.Transport, TransportWebsocket, TransportSocketIO))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log_level %q: must be 'debug', 'info', 'warn', or 'error'", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("invalid log_format %q: must be 'text' or 'json'", c.LogFormat))
	}

	if c.Client.ConnectAttempts < 1 {
		errs = append(errs, errors.New("client.connect_attempts must be at least 1"))
	}
	if c.Client.ConnectBackoff < 0 || c.Client.RequestTimeout < 0 || c.Worker.RetryBackoff < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.Worker.MaxAddRounds < 1 {
		errs = append(errs, errors.New("worker.max_add_rounds must be at least 1"))
	}
	if c.Worker.HealthcheckPort < 0 || c.Worker.HealthcheckPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid worker.healthcheck_port %d", c.Worker.HealthcheckPort))
	}

	return errors.Join(errs...)
}

// ChannelURL returns the URL a process in the given role connects to.
// For the Socket.IO transport this is the engine endpoint; the role is
// carried by Namespace instead.
func (c *Config) ChannelURL(role Role) string {
	host := strings.TrimSuffix(c.ServerURL, "/")
	if c.Transport == TransportSocketIO {
		return c.httpScheme() + "://" + host + "/socket.io/"
	}
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	return scheme + "://" + host + "/" + string(role)
}

// Namespace returns the Socket.IO namespace for role.
func (c *Config) Namespace(role Role) string {
	return "/" + string(role)
}

// CacheURL returns the binary cache endpoint served by the relay.
func (c *Config) CacheURL() string {
	return c.httpScheme() + "://" + strings.TrimSuffix(c.ServerURL, "/")
}

func (c *Config) httpScheme() string {
	if c.Secure {
		return "https"
	}
	return "http"
}
