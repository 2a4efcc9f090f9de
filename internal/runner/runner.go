// Package runner executes external build commands with timeout handling and
// captured output. Commands are run through /bin/sh so config entries can use
// shell syntax (pipes, &&, env expansion) the same way a release script would.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"git.home.luguber.info/inful/relbuilder/internal/logfields"
)

// DefaultTimeout bounds a single command when the caller does not set one.
const DefaultTimeout = 30 * time.Minute

// Command describes one external command invocation.
type Command struct {
	Name    string            // logical name for logging (step name)
	Script  string            // shell script text passed to sh -c
	Dir     string            // working directory; empty means process cwd
	Env     map[string]string // extra environment, appended to os.Environ()
	Timeout time.Duration     // zero means DefaultTimeout
}

// Result captures the outcome of a command invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// StderrTail returns the last n lines of stderr for compact error logging.
func (r Result) StderrTail(n int) string {
	lines := strings.Split(strings.TrimRight(r.Stderr, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// ExitError is returned when the command ran but exited non-zero.
type ExitError struct {
	Name     string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Name, e.ExitCode)
}

// Runner executes commands sequentially. The zero value is usable.
type Runner struct {
	// Shell overrides the interpreter, mainly for tests. Defaults to /bin/sh.
	Shell string
}

// New creates a runner with default settings.
func New() *Runner { return &Runner{} }

func (r *Runner) shell() string {
	if r.Shell != "" {
		return r.Shell
	}
	return "/bin/sh"
}

// Run executes the command and returns its result. A non-zero exit status is
// reported both in the Result and as an *ExitError so callers can branch on it.
func (r *Runner) Run(ctx context.Context, c Command) (Result, error) {
	if strings.TrimSpace(c.Script) == "" {
		return Result{}, fmt.Errorf("command %q has no script", c.Name)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, r.shell(), "-c", c.Script)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}

	env := os.Environ()
	for k, v := range c.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Running command", logfields.Step(c.Name), logfields.Path(c.Dir))
	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		switch execCtx.Err() {
		case context.DeadlineExceeded:
			return res, fmt.Errorf("command %q timed out after %s: %w", c.Name, timeout, execCtx.Err())
		case context.Canceled:
			return res, fmt.Errorf("command %q interrupted: %w", c.Name, execCtx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Name: c.Name, ExitCode: res.ExitCode, Stderr: res.StderrTail(20)}
		}
		return res, fmt.Errorf("command %q failed to start: %w", c.Name, err)
	}

	slog.Debug("Command completed",
		logfields.Step(c.Name),
		logfields.DurationMS(float64(res.Duration.Milliseconds())))
	return res, nil
}

// LookPath reports whether the named tool is available on PATH.
func LookPath(tool string) (string, bool) {
	p, err := exec.LookPath(tool)
	return p, err == nil
}
