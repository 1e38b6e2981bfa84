package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"crewmux/internal/clock"
	"crewmux/pkg/names"
)

// DefaultPrefix is the session name prefix when Manager.Prefix is empty.
const DefaultPrefix = "crewmux"

// Session identifies a worker's tmux session and its first pane.
type Session struct {
	Name   string `json:"name"`
	Team   string `json:"team"`
	Worker string `json:"worker"`
	PaneID string `json:"pane_id"`
}

// Manager issues tmux commands for the leader. The zero value of each
// optional field selects the real implementation.
type Manager struct {
	Runner Runner
	Clock  clock.Clock
	Logger *slog.Logger
	Prefix string
	Getenv func(string) string
}

// NewManager returns a Manager backed by the tmux binary.
func NewManager(prefix string, logger *slog.Logger) *Manager {
	return &Manager{Runner: &ExecRunner{}, Prefix: prefix, Logger: logger}
}

func (m *Manager) run(ctx context.Context, args ...string) (string, error) {
	if m.Runner == nil {
		m.Runner = &ExecRunner{}
	}
	return m.Runner.Run(ctx, args...)
}

func (m *Manager) clock() clock.Clock {
	if m.Clock == nil {
		return clock.Real()
	}
	return m.Clock
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.Logger
}

func (m *Manager) getenv(key string) string {
	if m.Getenv == nil {
		return os.Getenv(key)
	}
	return m.Getenv(key)
}

func (m *Manager) prefix() string {
	if m.Prefix == "" {
		return DefaultPrefix
	}
	return m.Prefix
}

// SessionName returns the session name for a team's worker.
func (m *Manager) SessionName(team, worker string) (string, error) {
	return names.SessionName(m.prefix(), team, worker)
}

// InsideTmux reports whether the leader process is running under tmux.
func (m *Manager) InsideTmux() bool {
	return m.getenv("TMUX") != ""
}

// CurrentSession returns the name of the session the leader runs in, or ""
// when the leader is not inside tmux. An error means the leader is inside
// tmux but the session could not be determined.
func (m *Manager) CurrentSession(ctx context.Context) (string, error) {
	if !m.InsideTmux() {
		return "", nil
	}
	args := []string{"display-message", "-p"}
	if pane := m.getenv("TMUX_PANE"); pane != "" {
		args = append(args, "-t", pane)
	}
	args = append(args, "#{session_name}")
	out, err := m.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCurrentSessionUnknown, err)
	}
	name := strings.TrimSpace(out)
	if name == "" {
		return "", ErrCurrentSessionUnknown
	}
	return name, nil
}

// HasSession reports whether a session with exactly this name exists.
func (m *Manager) HasSession(ctx context.Context, name string) bool {
	_, err := m.run(ctx, "has-session", "-t", "="+name)
	return err == nil
}

// ListSessions returns the names of all sessions on the server. A server
// that is not running has no sessions.
func (m *Manager) ListSessions(ctx context.Context) ([]string, error) {
	out, err := m.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if isMissingSession(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return splitLines(out), nil
}

// CreateSession creates a detached session for the worker, rooted at cwd.
// A stale session of the same name is killed first unless it is the
// leader's own session, which yields *SelfSessionError.
func (m *Manager) CreateSession(ctx context.Context, team, worker, cwd string) (Session, error) {
	name, err := m.SessionName(team, worker)
	if err != nil {
		return Session{}, err
	}
	current, err := m.CurrentSession(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("create session %s: %w", name, err)
	}
	if current == name {
		return Session{}, &SelfSessionError{Session: name}
	}

	if m.HasSession(ctx, name) {
		m.logger().Info("replacing existing worker session", "session", name, "team", team, "worker", worker)
		if _, err := m.run(ctx, "kill-session", "-t", "="+name); err != nil && !isMissingSession(err) {
			return Session{}, fmt.Errorf("kill stale session %s: %w", name, err)
		}
	}

	args := []string{"new-session", "-d", "-P", "-F", "#{pane_id}", "-s", name}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	out, err := m.run(ctx, args...)
	if err != nil {
		return Session{}, fmt.Errorf("create session %s: %w", name, err)
	}
	return Session{Name: name, Team: team, Worker: worker, PaneID: strings.TrimSpace(out)}, nil
}

// KillSession destroys the worker's session. Killing the leader's own
// session is refused with *SelfSessionError, and a session that does not
// exist is not an error. When the leader is inside tmux but cannot determine its own
// session the kill is refused.
func (m *Manager) KillSession(ctx context.Context, team, worker string) error {
	name, err := m.SessionName(team, worker)
	if err != nil {
		return err
	}
	current, err := m.CurrentSession(ctx)
	if err != nil {
		m.logger().Warn("refusing to kill session", "session", name, "err", err)
		return fmt.Errorf("kill session %s: %w", name, err)
	}
	if current == name {
		m.logger().Warn("not killing the leader's own session", "session", name)
		return &SelfSessionError{Session: name}
	}
	if _, err := m.run(ctx, "kill-session", "-t", "="+name); err != nil {
		if isMissingSession(err) {
			return nil
		}
		return fmt.Errorf("kill session %s: %w", name, err)
	}
	return nil
}

// SendKeys types text literally into target and then presses Enter.
// Literal mode keeps tmux from interpreting words like "Enter" or "C-c"
// inside the text.
func (m *Manager) SendKeys(ctx context.Context, target, text string) error {
	if _, err := m.run(ctx, "send-keys", "-t", target, "-l", "--", text); err != nil {
		return fmt.Errorf("send text to %s: %w", target, err)
	}
	if _, err := m.run(ctx, "send-keys", "-t", target, "Enter"); err != nil {
		return fmt.Errorf("send Enter to %s: %w", target, err)
	}
	return nil
}

// SendKey sends a single named key such as "C-c" or "Escape".
func (m *Manager) SendKey(ctx context.Context, target, key string) error {
	if _, err := m.run(ctx, "send-keys", "-t", target, key); err != nil {
		return fmt.Errorf("send %s to %s: %w", key, target, err)
	}
	return nil
}

// CapturePane returns the last lines of target's visible content and
// scrollback. Any failure yields "".
func (m *Manager) CapturePane(ctx context.Context, target string, lines int) string {
	args := []string{"capture-pane", "-p", "-J", "-t", target}
	if lines > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(lines))
	}
	out, err := m.run(ctx, args...)
	if err != nil {
		return ""
	}
	return tailString(strings.TrimRight(out, "\n"), lines)
}

// PaneExists reports whether target names at least one live pane.
func (m *Manager) PaneExists(ctx context.Context, target string) bool {
	out, err := m.run(ctx, "list-panes", "-t", target, "-F", "#{pane_dead}")
	if err != nil {
		return false
	}
	for _, line := range splitLines(out) {
		if line == "0" {
			return true
		}
	}
	return false
}

// WorkerPaneAlive reports whether the worker's session has a live pane.
// It satisfies the health monitor's pane checker.
func (m *Manager) WorkerPaneAlive(ctx context.Context, team, worker string) bool {
	name, err := m.SessionName(team, worker)
	if err != nil {
		return false
	}
	return m.PaneExists(ctx, "="+name)
}

// Attached reports whether any client is attached to the session.
func (m *Manager) Attached(ctx context.Context, session string) bool {
	out, err := m.run(ctx, "display-message", "-p", "-t", session, "#{session_attached}")
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	return err == nil && n > 0
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// IsUnavailable reports whether err means tmux is not installed.
func IsUnavailable(err error) bool {
	var u *UnavailableError
	return errors.As(err, &u)
}
