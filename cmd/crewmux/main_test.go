package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"crewmux/pkg/audit"
	"crewmux/pkg/status"
	"crewmux/pkg/taskqueue"
)

// isolate points the CLI at a fresh project with no worker identity or
// tmux in the environment.
func isolate(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"TMUX", "TMUX_PANE", "CREWMUX_TEAM", "CREWMUX_TEAM_WORKER", "CREWMUX_STATE_DIR", "CREWMUX_TRANSPORT", "CREWMUX_SESSION_PREFIX"} {
		t.Setenv(k, "")
	}
	return t.TempDir()
}

func run(t *testing.T, project string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--project", project}, args...))
	err := root.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, project string, args ...string) string {
	t.Helper()
	out, err := run(t, project, args...)
	if err != nil {
		t.Fatalf("crewmux %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestVersionFlag(t *testing.T) {
	out := mustRun(t, isolate(t), "--version")
	if !strings.HasPrefix(out, "crewmux ") {
		t.Errorf("version output = %q", out)
	}
}

func TestTaskWorkflow(t *testing.T) {
	dir := isolate(t)
	mustRun(t, dir, "task", "create", "core", "fix flaky test", "--id", "t-1")

	out := mustRun(t, dir, "task", "list", "core")
	if !strings.Contains(out, "t-1") || !strings.Contains(out, "pending") {
		t.Errorf("list = %q", out)
	}

	t.Setenv("CREWMUX_TEAM_WORKER", "core/w1")
	mustRun(t, dir, "task", "claim", "t-1")
	if _, err := run(t, dir, "task", "claim", "t-1", "--worker", "w2"); err == nil {
		t.Error("second claim should fail")
	}
	mustRun(t, dir, "task", "complete", "t-1", "--result", "merged")

	out = mustRun(t, dir, "--json", "task", "list", "core")
	var tasks []taskqueue.Task
	if err := json.Unmarshal([]byte(out), &tasks); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(tasks) != 1 || tasks[0].Status != taskqueue.StatusCompleted || tasks[0].Result != "merged" {
		t.Errorf("tasks = %+v", tasks)
	}

	out = mustRun(t, dir, "--json", "audit", "core", "--worker", "w1")
	var events []audit.Event
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		t.Fatalf("decode audit: %v\n%s", err, out)
	}
	if len(events) != 2 || events[0].Type != audit.EventTaskClaimed || events[1].Type != audit.EventTaskCompleted {
		t.Errorf("audit = %+v", events)
	}
}

func TestWorkerCommandsNeedIdentity(t *testing.T) {
	dir := isolate(t)
	if _, err := run(t, dir, "heartbeat"); err == nil {
		t.Error("heartbeat without identity should fail")
	}
	if _, err := run(t, dir, "send", "--type", "x"); err == nil {
		t.Error("send without identity should fail")
	}
}

func TestSendAndRead(t *testing.T) {
	dir := isolate(t)
	t.Setenv("CREWMUX_TEAM_WORKER", "core/w1")
	mustRun(t, dir, "send", "--type", "progress", "--payload", `{"pct":40}`)
	if _, err := run(t, dir, "send", "--type", "progress", "--payload", "{not json"); err == nil {
		t.Error("invalid payload should be rejected")
	}

	// The reader only sees workers it knows about.
	mustRun(t, dir, "heartbeat", "--status", "working")
	t.Setenv("CREWMUX_TEAM_WORKER", "")

	out := mustRun(t, dir, "read", "core")
	if !strings.Contains(out, "w1 progress") || !strings.Contains(out, `"pct":40`) {
		t.Errorf("read = %q", out)
	}
	out = mustRun(t, dir, "read", "core")
	if strings.Contains(out, "progress") {
		t.Errorf("second read should be empty, got %q", out)
	}
}

func TestHeartbeatShowsInStatus(t *testing.T) {
	dir := isolate(t)
	t.Setenv("CREWMUX_TEAM_WORKER", "core/w1")
	mustRun(t, dir, "heartbeat", "--status", "idle")
	if _, err := run(t, dir, "heartbeat", "--status", "asleep"); err == nil {
		t.Error("unknown status should be rejected")
	}
	t.Setenv("CREWMUX_TEAM_WORKER", "")

	out := mustRun(t, dir, "--json", "status", "core")
	var teams []status.TeamStatus
	if err := json.Unmarshal([]byte(out), &teams); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(teams) != 1 || len(teams[0].Workers) != 1 {
		t.Fatalf("status = %+v", teams)
	}
	ws := teams[0].Workers[0]
	if !ws.Alive || ws.Heartbeat == nil || ws.Heartbeat.Status != "idle" {
		t.Errorf("worker status = %+v", ws)
	}

	text := mustRun(t, dir, "status")
	if !strings.Contains(text, "Team core") || !strings.Contains(text, "w1") {
		t.Errorf("text status = %q", text)
	}
}

func TestStatusWithoutTeams(t *testing.T) {
	out := mustRun(t, isolate(t), "status")
	if !strings.Contains(out, "no teams") {
		t.Errorf("status = %q", out)
	}
}

func TestConfigPrintsEffectiveSettings(t *testing.T) {
	dir := isolate(t)
	out := mustRun(t, dir, "config")
	if !strings.Contains(out, "session_prefix: crewmux") {
		t.Errorf("config = %q", out)
	}
}

func TestDirectRejectedOnLegacyTransport(t *testing.T) {
	dir := isolate(t)
	if _, err := run(t, dir, "direct", "core", "w1", "--type", "stop"); err == nil {
		t.Error("legacy transport has no directives")
	}
}

func TestResolveIdentity(t *testing.T) {
	env := map[string]string{"CREWMUX_TEAM_WORKER": "core/w1"}
	getenv := func(k string) string { return env[k] }

	team, worker, err := resolveIdentity("", "", getenv)
	if err != nil || team != "core" || worker != "w1" {
		t.Errorf("from env = %q %q %v", team, worker, err)
	}
	team, worker, err = resolveIdentity("other", "w9", getenv)
	if err != nil || team != "other" || worker != "w9" {
		t.Errorf("flags should win = %q %q %v", team, worker, err)
	}
	if _, _, err := resolveIdentity("", "", func(string) string { return "" }); err == nil {
		t.Error("expected missing identity error")
	}
}
