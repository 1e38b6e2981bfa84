package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"crewmux/internal/appversion"
	"crewmux/pkg/config"
	"crewmux/pkg/team"

	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	project string
	json    bool
	verbose bool
}

// newRootCmd creates the root crewmux command with all subcommands attached.
func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "crewmux",
		Short:         "Run teams of coding agents in tmux",
		Long:          "crewmux spawns Claude, Codex and Gemini CLI workers into tmux sessions,\nhands them tasks, and tracks their health from the leader's terminal.",
		Version:       fmt.Sprintf("crewmux %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&g.project, "project", "C", "", "project directory (default: current directory)")
	cmd.PersistentFlags().BoolVar(&g.json, "json", false, "print machine-readable JSON")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log progress to stderr")

	cmd.AddCommand(
		newSpawnCmd(g),
		newKillCmd(g),
		newInterruptCmd(g),
		newShutdownCmd(g),
		newStatusCmd(g),
		newHealthCmd(g),
		newProbeCmd(g),
		newTaskCmd(g),
		newSendCmd(g),
		newReadCmd(g),
		newDirectCmd(g),
		newInboxCmd(g),
		newHeartbeatCmd(g),
		newAuditCmd(g),
		newConfigCmd(g),
		newDashCmd(g),
	)
	return cmd
}

// logger returns a text logger on w. Without --verbose only warnings are
// shown.
func (g *globalFlags) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (g *globalFlags) config() (config.Config, error) {
	dir := g.project
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return config.Config{}, fmt.Errorf("working directory: %w", err)
		}
		dir = wd
	}
	return config.Load(dir)
}

// openLeader loads configuration and builds a leader. The caller closes it.
func (g *globalFlags) openLeader(cmd *cobra.Command) (*team.Leader, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	return team.New(cmd.Context(), team.Options{
		Config: cfg,
		Logger: g.logger(cmd.ErrOrStderr()),
	})
}

// withLeader runs fn with an open leader and closes it afterwards.
func (g *globalFlags) withLeader(cmd *cobra.Command, fn func(l *team.Leader) error) error {
	l, err := g.openLeader(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()
	return fn(l)
}
