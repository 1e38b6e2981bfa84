package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crewmux/pkg/mailbox"
)

func writeConfig(t *testing.T, project, name, content string) {
	t.Helper()
	dir := filepath.Join(project, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func noEnv(string) string { return "" }

func TestLoadDefaults(t *testing.T) {
	project := t.TempDir()
	cfg, err := LoadWithEnv(project, noEnv)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StateDir != filepath.Join(project, ".crewmux", "state") {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
	if cfg.SessionPrefix != "crewmux" || cfg.HeartbeatMaxAge.Std() != 30*time.Second || cfg.RecentMessages != 5 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Source != "" {
		t.Errorf("Source = %q, want none", cfg.Source)
	}
	if cfg.TransportFor("any") != mailbox.ModeLegacy {
		t.Error("default transport should be legacy")
	}
}

func TestLoadYAML(t *testing.T) {
	project := t.TempDir()
	writeConfig(t, project, "config.yaml", `
session_prefix: Fleet
heartbeat_max_age: 45s
layout_debounce: 300ms
transport: legacy
teams:
  release:
    transport: protocol
trusted_dirs:
  - /opt/agents/bin
prompt_pattern: 'READY$'
`)
	// A TOML file alongside is ignored.
	writeConfig(t, project, "config.toml", `session_prefix = "ignored"`)

	cfg, err := LoadWithEnv(project, noEnv)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SessionPrefix != "fleet" {
		t.Errorf("SessionPrefix = %q, want sanitized fleet", cfg.SessionPrefix)
	}
	if cfg.HeartbeatMaxAge.Std() != 45*time.Second || cfg.LayoutDebounce.Std() != 300*time.Millisecond {
		t.Errorf("durations = %v %v", cfg.HeartbeatMaxAge.Std(), cfg.LayoutDebounce.Std())
	}
	if cfg.TransportFor("release") != mailbox.ModeProtocol || cfg.TransportFor("other") != mailbox.ModeLegacy {
		t.Error("per-team transport not applied")
	}
	if cfg.AtRiskErrors != 2 {
		t.Errorf("unset field lost its default: %d", cfg.AtRiskErrors)
	}
	if cfg.Prompt() == nil || !cfg.Prompt().MatchString("READY") {
		t.Error("prompt pattern not compiled")
	}
	if !strings.HasSuffix(cfg.Source, "config.yaml") {
		t.Errorf("Source = %q", cfg.Source)
	}
}

func TestLoadTOML(t *testing.T) {
	project := t.TempDir()
	writeConfig(t, project, "config.toml", `
state_dir = "var/state"
shell_ready_timeout = "20s"
quarantine_errors = 5

[teams.docs]
transport = "protocol"
`)
	cfg, err := LoadWithEnv(project, noEnv)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StateDir != filepath.Join(project, "var", "state") {
		t.Errorf("relative state_dir not resolved: %q", cfg.StateDir)
	}
	if cfg.ShellReadyTimeout.Std() != 20*time.Second || cfg.QuarantineErrors != 5 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.TransportFor("docs") != mailbox.ModeProtocol {
		t.Error("toml team transport not applied")
	}
}

func TestEnvOverrides(t *testing.T) {
	project := t.TempDir()
	writeConfig(t, project, "config.yaml", "session_prefix: fromfile\n")
	env := map[string]string{
		EnvStateDir:      "/srv/crewmux",
		EnvSessionPrefix: "fromenv",
		EnvTransport:     "protocol",
	}
	cfg, err := LoadWithEnv(project, func(k string) string { return env[k] })
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StateDir != "/srv/crewmux" || cfg.SessionPrefix != "fromenv" || cfg.TransportFor("x") != mailbox.ModeProtocol {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"bad duration":   "heartbeat_max_age: soon\n",
		"bad transport":  "transport: pigeon\n",
		"bad team":       "teams:\n  a:\n    transport: pigeon\n",
		"bad pattern":    "prompt_pattern: '('\n",
		"bad thresholds": "at_risk_errors: 3\nquarantine_errors: 3\n",
		"relative trust": "trusted_dirs: [bin]\n",
		"bad prefix":     "session_prefix: '!'\n",
		"not yaml":       "teams: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			project := t.TempDir()
			writeConfig(t, project, "config.yaml", content)
			if _, err := LoadWithEnv(project, noEnv); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPaths(t *testing.T) {
	p := Paths{StateDir: "/s"}
	tests := []struct{ got, want string }{
		{p.MailboxDB(), "/s/mailbox.db"},
		{p.AuditLog("alpha"), "/s/teams/alpha/audit.jsonl"},
		{p.TasksDir("alpha"), "/s/teams/alpha/tasks"},
		{p.MailboxDir("alpha"), "/s/teams/alpha/mailbox"},
		{p.HeartbeatPath("alpha", "w1"), "/s/teams/alpha/workers/w1/heartbeat.json"},
		{p.IdentityPath("alpha", "w1"), "/s/teams/alpha/workers/w1/identity.json"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("path = %q, want %q", tt.got, tt.want)
		}
	}
}
