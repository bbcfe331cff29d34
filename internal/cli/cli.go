package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ominit/nix-relay/internal/app"
)

// ExitError is a custom error type that includes a specific exit code. An
// empty Message means nothing should be printed.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Message
}

// commonFlags registers the flags shared by both binaries.
func commonFlags(fs *flag.FlagSet) *app.Options {
	opts := &app.Options{}
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to the configuration file. Defaults to $XDG_CONFIG_HOME/nix-relay/nixr.hcl.")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Override the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	fs.StringVar(&opts.LogFormat, "log-format", "", "Override the log output format. Options: 'text' or 'json'.")
	fs.StringVar(&opts.ServerURL, "server-url", "", "Override the relay address (host[:port]).")
	return opts
}

func validateCommon(opts *app.Options) error {
	opts.LogLevel = strings.ToLower(opts.LogLevel)
	switch opts.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	opts.LogFormat = strings.ToLower(opts.LogFormat)
	if opts.LogFormat != "" && opts.LogFormat != "text" && opts.LogFormat != "json" {
		return &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	return nil
}

// ParseClient processes the client's command line. It returns the parsed
// options, a boolean indicating if the program should exit cleanly, or an
// ExitError.
func ParseClient(args []string, output io.Writer) (*app.ClientOptions, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("nixr", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprintf(output, `
nixr - build Nix derivations on a remote worker pool.

Usage:
  nixr [options] build   [FLAKE_REF]
  nixr [options] run     [FLAKE_REF]
  nixr [options] develop [FLAKE_REF]
  nixr [options] rebuild TYPE [FLAKE_REF]

Arguments:
  FLAKE_REF
    Flake or installable to build. Defaults to ".".
  TYPE
    One of: %s

Options:
`, strings.Join(app.RebuildTypes, ", "))
		flagSet.PrintDefaults()
	}

	opts := commonFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if err := validateCommon(opts); err != nil {
		return nil, false, err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		slog.Debug("No command provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	kind, rest := rest[0], rest[1:]
	var rebuildType string
	if kind == app.CommandRebuild {
		if len(rest) == 0 {
			return nil, false, &ExitError{Code: 2, Message: "rebuild requires a TYPE: one of " + strings.Join(app.RebuildTypes, ", ")}
		}
		rebuildType, rest = rest[0], rest[1:]
	}
	if len(rest) > 1 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected arguments: %s", strings.Join(rest[1:], " "))}
	}
	ref := ""
	if len(rest) == 1 {
		ref = rest[0]
	}

	cmd, err := app.NewCommand(kind, rebuildType, ref)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "command", cmd.Kind, "ref", cmd.Ref)
	return &app.ClientOptions{Options: *opts, Command: cmd}, false, nil
}

// ParseWorker processes the worker's command line.
func ParseWorker(args []string, output io.Writer) (*app.WorkerOptions, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("nixr-worker", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
nixr-worker - serve Nix builds for a nix-relay server.

Usage:
  nixr-worker [options]

Options:
`)
		flagSet.PrintDefaults()
	}

	opts := commonFlags(flagSet)
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 uses the configured port.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if err := validateCommon(opts); err != nil {
		return nil, false, err
	}
	if flagSet.NArg() > 0 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected arguments: %s", strings.Join(flagSet.Args(), " "))}
	}
	if *healthPortFlag < 0 || *healthPortFlag > 65535 {
		return nil, false, &ExitError{Code: 2, Message: "invalid healthcheck-port"}
	}

	return &app.WorkerOptions{Options: *opts, HealthcheckPort: *healthPortFlag}, false, nil
}
