// Package commandtest provides a scripted command.Runner for tests.
package commandtest

import (
	"context"
	"strings"
	"sync"

	"github.com/ominit/nix-relay/internal/command"
)

// Handler produces the result for one invocation.
type Handler func(cmd command.Cmd) (*command.Result, error)

// Runner is a command.Runner that records every invocation and answers with
// the first handler whose prefix matches the command line.
type Runner struct {
	mu       sync.Mutex
	calls    []command.Cmd
	prefixes []string
	handlers []Handler
	fallback Handler
}

// New returns a Runner that answers unmatched commands with exit status 0.
func New() *Runner {
	return &Runner{fallback: func(command.Cmd) (*command.Result, error) { return &command.Result{}, nil }}
}

// On registers a handler for command lines starting with prefix.
func (r *Runner) On(prefix string, h Handler) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes = append(r.prefixes, prefix)
	r.handlers = append(r.handlers, h)
	return r
}

// Run implements command.Runner.
func (r *Runner) Run(_ context.Context, cmd command.Cmd) (*command.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	h := r.fallback
	line := cmd.String()
	for i, p := range r.prefixes {
		if strings.HasPrefix(line, p) {
			h = r.handlers[i]
			break
		}
	}
	r.mu.Unlock()
	return h(cmd)
}

// Calls returns a copy of all recorded invocations.
func (r *Runner) Calls() []command.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]command.Cmd(nil), r.calls...)
}

// CallLines returns the recorded invocations rendered as command lines.
func (r *Runner) CallLines() []string {
	var lines []string
	for _, c := range r.Calls() {
		lines = append(lines, c.String())
	}
	return lines
}

// Stdout is a Handler that succeeds and prints out.
func Stdout(out string) Handler {
	return func(command.Cmd) (*command.Result, error) {
		return &command.Result{Stdout: []byte(out)}, nil
	}
}

// Exit is a Handler that fails with the given code and stderr.
func Exit(code int, stderr string) Handler {
	return func(command.Cmd) (*command.Result, error) {
		return &command.Result{ExitCode: code, Stderr: []byte(stderr)}, nil
	}
}
