// Package config loads crewmux settings from the project directory.
//
// Settings come from .crewmux/config.yaml, or .crewmux/config.toml when no
// YAML file exists, layered over built-in defaults. Environment variables
// override both:
//   - CREWMUX_STATE_DIR: state directory (default: <project>/.crewmux/state)
//   - CREWMUX_SESSION_PREFIX: tmux session name prefix (default: crewmux)
//   - CREWMUX_TRANSPORT: default mailbox transport (legacy or protocol)
//
// CREWMUX_TRUSTED_DIRS is read by the binary resolver itself.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"crewmux/pkg/mailbox"
	"crewmux/pkg/names"
)

// Dir is the per-project configuration directory.
const Dir = ".crewmux"

// Environment variables.
const (
	EnvStateDir      = "CREWMUX_STATE_DIR"
	EnvSessionPrefix = "CREWMUX_SESSION_PREFIX"
	EnvTransport     = "CREWMUX_TRANSPORT"
)

// Duration is a time.Duration written as a string such as "30s".
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// TeamConfig holds per-team overrides.
type TeamConfig struct {
	Transport string `yaml:"transport" toml:"transport"`
}

// Config is the merged configuration.
type Config struct {
	StateDir            string                `yaml:"state_dir" toml:"state_dir"`
	SessionPrefix       string                `yaml:"session_prefix" toml:"session_prefix"`
	Transport           string                `yaml:"transport" toml:"transport"`
	Teams               map[string]TeamConfig `yaml:"teams" toml:"teams"`
	HeartbeatMaxAge     Duration              `yaml:"heartbeat_max_age" toml:"heartbeat_max_age"`
	AtRiskErrors        int                   `yaml:"at_risk_errors" toml:"at_risk_errors"`
	QuarantineErrors    int                   `yaml:"quarantine_errors" toml:"quarantine_errors"`
	ShellReadyInterval  Duration              `yaml:"shell_ready_interval" toml:"shell_ready_interval"`
	ShellReadyTimeout   Duration              `yaml:"shell_ready_timeout" toml:"shell_ready_timeout"`
	PromptPattern       string                `yaml:"prompt_pattern" toml:"prompt_pattern"`
	Layout              string                `yaml:"layout" toml:"layout"`
	LayoutDebounce      Duration              `yaml:"layout_debounce" toml:"layout_debounce"`
	TrustedDirs         []string              `yaml:"trusted_dirs" toml:"trusted_dirs"`
	ProbeTimeout        Duration              `yaml:"probe_timeout" toml:"probe_timeout"`
	InvocationTimeout   Duration              `yaml:"invocation_timeout" toml:"invocation_timeout"`
	MailboxMaxReadBytes int64                 `yaml:"mailbox_max_read_bytes" toml:"mailbox_max_read_bytes"`
	RecentMessages      int                   `yaml:"recent_messages" toml:"recent_messages"`
	LockStaleAfter      Duration              `yaml:"lock_stale_after" toml:"lock_stale_after"`

	// ProjectDir and Source are set by Load.
	ProjectDir string `yaml:"-" toml:"-"`
	Source     string `yaml:"-" toml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		SessionPrefix:       "crewmux",
		Transport:           string(mailbox.ModeLegacy),
		HeartbeatMaxAge:     Duration(30 * time.Second),
		AtRiskErrors:        2,
		QuarantineErrors:    3,
		ShellReadyInterval:  Duration(250 * time.Millisecond),
		ShellReadyTimeout:   Duration(10 * time.Second),
		Layout:              "main-vertical",
		LayoutDebounce:      Duration(150 * time.Millisecond),
		ProbeTimeout:        Duration(5 * time.Second),
		InvocationTimeout:   Duration(10 * time.Minute),
		MailboxMaxReadBytes: 1 << 20,
		RecentMessages:      5,
		LockStaleAfter:      Duration(30 * time.Second),
	}
}

// Load reads the project's configuration with the process environment.
func Load(projectDir string) (Config, error) {
	return LoadWithEnv(projectDir, os.Getenv)
}

// LoadWithEnv reads the project's configuration using getenv for
// overrides.
func LoadWithEnv(projectDir string, getenv func(string) string) (Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve project dir: %w", err)
	}
	cfg := Defaults()
	cfg.ProjectDir = abs

	if err := cfg.loadFile(); err != nil {
		return Config{}, err
	}
	cfg.applyEnv(getenv)

	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Join(abs, Dir, "state")
	} else if !filepath.IsAbs(cfg.StateDir) {
		cfg.StateDir = filepath.Join(abs, cfg.StateDir)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile() error {
	yamlPath := filepath.Join(c.ProjectDir, Dir, "config.yaml")
	data, err := os.ReadFile(yamlPath)
	if err == nil {
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", yamlPath, err)
		}
		c.Source = yamlPath
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", yamlPath, err)
	}

	tomlPath := filepath.Join(c.ProjectDir, Dir, "config.toml")
	data, err = os.ReadFile(tomlPath)
	if err == nil {
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", tomlPath, err)
		}
		c.Source = tomlPath
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", tomlPath, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvStateDir); v != "" {
		c.StateDir = v
	}
	if v := getenv(EnvSessionPrefix); v != "" {
		c.SessionPrefix = v
	}
	if v := getenv(EnvTransport); v != "" {
		c.Transport = v
	}
}

// Validate checks values that would otherwise fail later.
func (c *Config) Validate() error {
	prefix, err := names.Sanitize(c.SessionPrefix)
	if err != nil {
		return fmt.Errorf("session_prefix: %w", err)
	}
	c.SessionPrefix = prefix
	if _, err := mailbox.ParseMode(c.Transport); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	for team, tc := range c.Teams {
		if _, err := mailbox.ParseMode(tc.Transport); err != nil {
			return fmt.Errorf("teams.%s.transport: %w", team, err)
		}
	}
	if c.PromptPattern != "" {
		if _, err := regexp.Compile(c.PromptPattern); err != nil {
			return fmt.Errorf("prompt_pattern: %w", err)
		}
	}
	if c.AtRiskErrors <= 0 || c.QuarantineErrors <= c.AtRiskErrors {
		return fmt.Errorf("error thresholds: need 0 < at_risk_errors (%d) < quarantine_errors (%d)",
			c.AtRiskErrors, c.QuarantineErrors)
	}
	for _, dir := range c.TrustedDirs {
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("trusted_dirs: %q is not absolute", dir)
		}
	}
	return nil
}

// TransportFor returns the mailbox transport for team: the team override
// when set, otherwise the default.
func (c Config) TransportFor(team string) mailbox.Mode {
	if tc, ok := c.Teams[team]; ok && tc.Transport != "" {
		if m, err := mailbox.ParseMode(tc.Transport); err == nil {
			return m
		}
	}
	m, err := mailbox.ParseMode(c.Transport)
	if err != nil {
		return mailbox.ModeLegacy
	}
	return m
}

// Prompt returns the compiled prompt pattern, or nil for the default.
func (c Config) Prompt() *regexp.Regexp {
	if c.PromptPattern == "" {
		return nil
	}
	re, err := regexp.Compile(c.PromptPattern)
	if err != nil {
		return nil
	}
	return re
}
