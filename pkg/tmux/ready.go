package tmux

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

const (
	defaultReadyInterval = 250 * time.Millisecond
	defaultReadyTimeout  = 10 * time.Second
	readyCaptureLines    = 20
)

// DefaultPromptPattern matches a pane whose last non-blank text ends in a
// common shell prompt character.
var DefaultPromptPattern = regexp.MustCompile(`[$#%>❯»]\s*$`)

// ReadyOptions configures WaitForShellReady.
type ReadyOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	Pattern  *regexp.Regexp
}

func (o ReadyOptions) withDefaults() ReadyOptions {
	if o.Interval <= 0 {
		o.Interval = defaultReadyInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultReadyTimeout
	}
	if o.Pattern == nil {
		o.Pattern = DefaultPromptPattern
	}
	return o
}

// WaitForShellReady polls target until its trimmed content matches the
// prompt pattern. It returns true on the first match and false once the
// elapsed time exceeds the timeout or ctx is done. Capture failures count as
// non-matches.
func (m *Manager) WaitForShellReady(ctx context.Context, target string, opts ReadyOptions) bool {
	opts = opts.withDefaults()
	clk := m.clock()
	start := clk.Now()
	for {
		content := strings.TrimSpace(m.CapturePane(ctx, target, readyCaptureLines))
		if content != "" && opts.Pattern.MatchString(content) {
			return true
		}
		if clk.Now().Sub(start) > opts.Timeout || ctx.Err() != nil {
			return false
		}
		clk.Sleep(opts.Interval)
	}
}

// LaunchSpec describes the agent command typed into a worker pane.
type LaunchSpec struct {
	Env       []string // KEY=VALUE pairs
	Binary    string
	Args      []string
	WaitReady bool
	Ready     ReadyOptions
}

// CommandLine returns the shell-quoted command typed into the pane.
func (s LaunchSpec) CommandLine() string {
	words := make([]string, 0, len(s.Env)+len(s.Args)+2)
	if len(s.Env) > 0 {
		words = append(words, "env")
		words = append(words, s.Env...)
	}
	words = append(words, s.Binary)
	words = append(words, s.Args...)
	return shellquote.Join(words...)
}

// SpawnWorkerInPane launches the agent in target. When WaitReady is set it
// first waits for a shell prompt; a wait that times out is logged and the
// launch proceeds anyway.
func (m *Manager) SpawnWorkerInPane(ctx context.Context, target string, spec LaunchSpec) error {
	if spec.Binary == "" {
		return fmt.Errorf("spawn in %s: empty binary", target)
	}
	if spec.WaitReady && !m.WaitForShellReady(ctx, target, spec.Ready) {
		m.logger().Warn("shell did not become ready; sending launch command anyway", "pane", target)
	}
	if err := m.SendKeys(ctx, target, spec.CommandLine()); err != nil {
		return fmt.Errorf("launch %s in %s: %w", spec.Binary, target, err)
	}
	return nil
}
