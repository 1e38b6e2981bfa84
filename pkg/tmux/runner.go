// Package tmux drives the tmux server on behalf of the leader: worker
// sessions, keystroke delivery, pane capture and readiness polling, and the
// window operations the layout stabilizer needs. Every mutation that could
// touch the leader's own session is checked against it first.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes one tmux subcommand and returns its trimmed combined
// output. Implementations are swapped in tests.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner runs the tmux binary through os/exec.
type ExecRunner struct {
	// Binary overrides the tmux executable; empty means "tmux".
	Binary string
	// Socket, when set, is passed as -S so the leader can target a
	// private server.
	Socket string
}

// Run executes tmux with args.
func (e *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	bin := e.Binary
	if bin == "" {
		bin = "tmux"
	}
	full := args
	if e.Socket != "" {
		full = append([]string{"-S", e.Socket}, args...)
	}
	cmd := exec.CommandContext(ctx, bin, full...) //nolint:gosec // args are built by Manager
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", &UnavailableError{Err: err}
		}
		return output, &CommandError{Args: args, Output: output, Err: err}
	}
	return output, nil
}

// CommandError reports a tmux subcommand that ran and failed.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("tmux %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("tmux %s: %v (%s)", strings.Join(e.Args, " "), e.Err, e.Output)
}

func (e *CommandError) Unwrap() error { return e.Err }

// UnavailableError reports that tmux itself could not be executed.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("tmux is not available: %v; install tmux and make sure it is on PATH", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// SelfSessionError is returned when an operation would replace or destroy
// the session the leader runs in.
type SelfSessionError struct {
	Session string
}

func (e *SelfSessionError) Error() string {
	return fmt.Sprintf("refusing to replace or kill tmux session %q: the leader is running in it", e.Session)
}

// ErrCurrentSessionUnknown is returned by destructive operations when the
// leader is inside tmux but its own session could not be determined.
var ErrCurrentSessionUnknown = errors.New("inside tmux but the current session could not be determined")

// isMissingSession reports whether err means the target session or server
// does not exist.
func isMissingSession(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	out := cmdErr.Output
	return strings.Contains(out, "can't find session") ||
		strings.Contains(out, "session not found") ||
		strings.Contains(out, "no server running") ||
		strings.Contains(out, "error connecting to")
}

// tailString returns the last n lines of s. A trailing newline terminates
// the last line rather than starting a new one.
func tailString(s string, n int) string {
	if s == "" || n <= 0 {
		return s
	}
	searchFrom := len(s) - 1
	if s[searchFrom] == '\n' {
		searchFrom--
	}
	count := 0
	for i := searchFrom; i >= 0; i-- {
		if s[i] == '\n' {
			count++
			if count == n {
				return s[i+1:]
			}
		}
	}
	return s
}
