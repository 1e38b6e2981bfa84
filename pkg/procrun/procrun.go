// Package procrun runs a subprocess to completion and reports a structured
// result. Every run carries a hard timeout and always settles: a process
// that outlives its budget is killed and reported as timed out.
package procrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout applies when Command.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// waitDelay bounds how long Run waits for output pipes to drain after the
// process is killed. Grandchildren holding the pipes open would otherwise
// keep Wait blocked.
const waitDelay = 2 * time.Second

// Command describes one invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string // nil inherits the parent environment
	Stdin   io.Reader
	Timeout time.Duration
}

// Result is the outcome of Run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int // -1 when the process never ran or was killed
	Duration time.Duration
	TimedOut bool
	Err      error // start failure, timeout, or non-zero exit
}

// OK reports whether the process ran and exited zero.
func (r Result) OK() bool { return r.Err == nil }

// Output returns stdout, falling back to stderr when stdout is empty.
func (r Result) Output() string {
	if strings.TrimSpace(r.Stdout) != "" {
		return r.Stdout
	}
	return r.Stderr
}

// Run executes c and blocks until the process exits or the timeout
// elapses.
func Run(ctx context.Context, c Command) Result {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Name, c.Args...) //nolint:gosec // callers pass resolved binaries
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.WaitDelay = waitDelay
	if c.Stdin != nil {
		cmd.Stdin = c.Stdin
	} else {
		cmd.Stdin = strings.NewReader("")
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.Err = fmt.Errorf("%s: timed out after %v", c.Name, timeout)
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.Err = fmt.Errorf("%s exited with status %d: %w", c.Name, res.ExitCode, err)
		} else {
			res.Err = fmt.Errorf("run %s: %w", c.Name, err)
		}
	}
	return res
}
