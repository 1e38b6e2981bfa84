package tmux

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// SelectLayout applies a named layout to the window containing target.
func (m *Manager) SelectLayout(ctx context.Context, target, layout string) error {
	if _, err := m.run(ctx, "select-layout", "-t", target, layout); err != nil {
		return fmt.Errorf("select layout %s: %w", layout, err)
	}
	return nil
}

// WindowWidth returns the width in columns of target's window.
func (m *Manager) WindowWidth(ctx context.Context, target string) (int, error) {
	out, err := m.run(ctx, "display-message", "-p", "-t", target, "#{window_width}")
	if err != nil {
		return 0, fmt.Errorf("window width: %w", err)
	}
	w, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("window width %q: %w", out, err)
	}
	return w, nil
}

// SetWindowOption sets a window option on target's window.
func (m *Manager) SetWindowOption(ctx context.Context, target, key, value string) error {
	if _, err := m.run(ctx, "set-window-option", "-t", target, key, value); err != nil {
		return fmt.Errorf("set window option %s: %w", key, err)
	}
	return nil
}

// SelectPane makes target the active pane.
func (m *Manager) SelectPane(ctx context.Context, target string) error {
	if _, err := m.run(ctx, "select-pane", "-t", target); err != nil {
		return fmt.Errorf("select pane %s: %w", target, err)
	}
	return nil
}

// CurrentPane returns the leader's pane id, or "" outside tmux.
func (m *Manager) CurrentPane(ctx context.Context) (string, error) {
	if !m.InsideTmux() {
		return "", nil
	}
	if pane := m.getenv("TMUX_PANE"); pane != "" {
		return pane, nil
	}
	out, err := m.run(ctx, "display-message", "-p", "#{pane_id}")
	if err != nil {
		return "", fmt.Errorf("current pane: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// CurrentWindow returns the id of the window holding the leader's pane,
// or "" outside tmux.
func (m *Manager) CurrentWindow(ctx context.Context) (string, error) {
	pane, err := m.CurrentPane(ctx)
	if err != nil || pane == "" {
		return "", err
	}
	out, err := m.run(ctx, "display-message", "-p", "-t", pane, "#{window_id}")
	if err != nil {
		return "", fmt.Errorf("current window: %w", err)
	}
	return strings.TrimSpace(out), nil
}
