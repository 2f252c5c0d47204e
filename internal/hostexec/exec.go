// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package hostexec runs shell commands on behalf of plugins.
//
// The capability bridge forwards exec requests unvalidated; the deny-list in
// this package is the host's own command policy.
package hostexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Error codes.
const (
	CodeExecutionFailed = "EXECUTION_FAILED"
	CodeCommandDenied   = "COMMAND_DENIED"
)

// DefaultTimeout bounds a command when the executor has no explicit timeout.
const DefaultTimeout = 10 * time.Second

// maxOutputBytes caps captured output.
const maxOutputBytes = 64 * 1024

// DefaultDenied lists command fragments the device firmware refuses to run.
// Each fragment matches anywhere in the command string.
var DefaultDenied = []string{
	"rm -rf /",
	"rm -rf /*",
	"mkfs",
	"dd if=",
	":(){:|:&};:",
	"chmod -R 777 /",
	"chown -R",
	"> /dev/sda",
	"mv /* ",
}

// Runner executes a command. Tests substitute it.
type Runner interface {
	Exec(ctx context.Context, command string) (string, error)
}

// Option configures an Executor.
type Option func(*Executor) error

// WithTimeout sets the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		e.timeout = d
		return nil
	}
}

// WithShell overrides the shell used to interpret commands.
func WithShell(shell string) Option {
	return func(e *Executor) error {
		if shell == "" {
			return errors.New("shell cannot be empty")
		}
		e.shell = shell
		return nil
	}
}

// WithDeniedFragments replaces the deny-list with literal fragments, each
// matching anywhere in a command.
func WithDeniedFragments(fragments []string) Option {
	return func(e *Executor) error {
		patterns := make([]string, 0, len(fragments))
		for _, f := range fragments {
			if f == "" {
				continue
			}
			patterns = append(patterns, "*"+glob.QuoteMeta(f)+"*")
		}
		return e.compileDeny(patterns)
	}
}

// WithDeniedPatterns replaces the deny-list with glob patterns matched
// against the whole command.
func WithDeniedPatterns(patterns []string) Option {
	return func(e *Executor) error {
		return e.compileDeny(patterns)
	}
}

type denyRule struct {
	pattern string
	glob    glob.Glob
}

// Executor runs commands through a shell with a timeout and deny-list.
type Executor struct {
	shell   string
	timeout time.Duration
	deny    []denyRule
}

// New creates an executor using /bin/sh, DefaultTimeout and DefaultDenied.
func New(opts ...Option) (*Executor, error) {
	e := &Executor{shell: "/bin/sh", timeout: DefaultTimeout}
	if err := WithDeniedFragments(DefaultDenied)(e); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, oops.In("hostexec").Wrapf(err, "configure executor")
		}
	}
	return e, nil
}

func (e *Executor) compileDeny(patterns []string) error {
	rules := make([]denyRule, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return fmt.Errorf("deny pattern %q: %w", p, err)
		}
		rules = append(rules, denyRule{pattern: p, glob: g})
	}
	e.deny = rules
	return nil
}

// Denied returns the first deny pattern matching command, or "".
func (e *Executor) Denied(command string) string {
	for _, r := range e.deny {
		if r.glob.Match(command) {
			return r.pattern
		}
	}
	return ""
}

// Exec runs command and returns its combined output with trailing whitespace
// trimmed. A denied command, a non-zero exit or a timeout fail with
// EXECUTION_FAILED; the captured output is attached to the error context.
func (e *Executor) Exec(ctx context.Context, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", oops.In("hostexec").Code(CodeExecutionFailed).Errorf("empty command")
	}
	if pattern := e.Denied(command); pattern != "" {
		return "", oops.In("hostexec").Code(CodeExecutionFailed).
			With("reason", CodeCommandDenied).
			With("pattern", pattern).
			Errorf("command blocked by host policy")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.shell, "-c", command) //nolint:gosec // running plugin commands is the point of this package
	cmd.WaitDelay = time.Second
	var out limitedBuffer
	out.limit = maxOutputBytes
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimRight(out.String(), " \t\r\n")
	if err != nil {
		b := oops.In("hostexec").Code(CodeExecutionFailed).With("output", output)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return output, b.With("timeout", e.timeout.String()).Wrapf(err, "command timed out")
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, b.With("exit_code", exitErr.ExitCode()).Wrapf(err, "command exited non-zero")
		}
		return output, b.Wrapf(err, "run command")
	}
	return output, nil
}

// limitedBuffer keeps the first limit bytes written and discards the rest.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := l.limit - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}

func (l *limitedBuffer) String() string { return l.buf.String() }
