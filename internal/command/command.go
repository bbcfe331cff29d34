// Package command runs external tools and captures their output. Every
// collaborator the build system shells out to (the derivation resolver, the
// local store, the artifact transfer) goes through a Runner so that tests can
// substitute a recording fake.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/ominit/nix-relay/internal/ctxlog"
)

// Cmd describes one process invocation.
type Cmd struct {
	Name  string
	Args  []string
	Stdin []byte
}

// String renders the command line for logs.
func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the captured outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Success reports whether the process exited with status zero.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Diagnostic returns the captured stderr, trimmed, for error messages.
func (r *Result) Diagnostic() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(string(r.Stderr))
}

// Runner executes commands. A non-nil error means the process could not be
// started or waited on; a non-zero exit code is reported through Result.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run starts the process, feeds it Stdin and waits for it to exit.
func (ExecRunner) Run(ctx context.Context, c Cmd) (*Result, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("empty command")
	}
	logger := ctxlog.FromContext(ctx)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	logger.Debug("Running external command.", "cmd", c.String())
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.Name, err)
	}
	waitErr := cmd.Wait()
	dur := time.Since(start)

	exit := 0
	if waitErr != nil {
		var ee *exec.ExitError
		if !errors.As(waitErr, &ee) {
			return nil, fmt.Errorf("failed to wait for %s: %w", c.Name, waitErr)
		}
		exit = ee.ExitCode()
	}
	logger.Debug("External command finished.", "cmd", c.Name, "exit_code", exit, "duration", dur)

	return &Result{
		ExitCode: exit,
		Stdout:   outBuf.Bytes(),
		Stderr:   errBuf.Bytes(),
		Duration: dur,
	}, nil
}

// Attached runs a command with the given stdio streams, for handing control
// over to an interactive tool. It returns the process exit code.
func Attached(ctx context.Context, c Cmd, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	ctxlog.FromContext(ctx).Debug("Handing off to external command.", "cmd", c.String())
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return ee.ExitCode(), nil
		}
		return -1, fmt.Errorf("failed to run %s: %w", c.Name, err)
	}
	return 0, nil
}
