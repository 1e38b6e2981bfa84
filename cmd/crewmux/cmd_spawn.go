package main

import (
	"fmt"

	"crewmux/pkg/agentcli"
	"crewmux/pkg/team"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
)

type spawnConfig struct {
	agent  string
	model  string
	flags  string
	cwd    string
	env    []string
	noWait bool
}

// newSpawnCmd creates the "crewmux spawn" subcommand.
func newSpawnCmd(g *globalFlags) *cobra.Command {
	var cfg spawnConfig
	cmd := &cobra.Command{
		Use:   "spawn <team> <worker>",
		Short: "Start an agent worker in its own tmux session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := shellquote.Split(cfg.flags)
			if err != nil {
				return fmt.Errorf("parse --flags: %w", err)
			}
			return g.withLeader(cmd, func(l *team.Leader) error {
				cwd := cfg.cwd
				if cwd == "" {
					cwd = l.Config().ProjectDir
				}
				w, err := l.SpawnWorker(cmd.Context(), team.SpawnRequest{
					Team:       args[0],
					Worker:     args[1],
					AgentType:  agentcli.Type(cfg.agent),
					Model:      cfg.model,
					ExtraFlags: extra,
					Cwd:        cwd,
					Env:        cfg.env,
					NoWait:     cfg.noWait,
				})
				if err != nil {
					return err
				}
				if g.json {
					return writeJSON(cmd.OutOrStdout(), w)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "spawned %s/%s (%s) in session %s\n", w.Team, w.Name, w.AgentType, w.Session)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&cfg.agent, "agent", "a", string(agentcli.TypeClaude), "agent CLI to run")
	cmd.Flags().StringVarP(&cfg.model, "model", "m", "", "model passed to the agent")
	cmd.Flags().StringVar(&cfg.flags, "flags", "", "extra agent flags, shell-quoted")
	cmd.Flags().StringVar(&cfg.cwd, "cwd", "", "working directory for the worker (default: project dir)")
	cmd.Flags().StringArrayVarP(&cfg.env, "env", "e", nil, "extra KEY=VALUE for the worker environment")
	cmd.Flags().BoolVar(&cfg.noWait, "no-wait", false, "launch without waiting for a shell prompt")
	return cmd
}

// newKillCmd creates the "crewmux kill" subcommand.
func newKillCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <team> <worker>",
		Short: "Stop a worker and return its tasks to the queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withLeader(cmd, func(l *team.Leader) error {
				if err := l.KillWorker(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "killed %s/%s\n", args[0], args[1])
				return nil
			})
		},
	}
}

// newInterruptCmd creates the "crewmux interrupt" subcommand.
func newInterruptCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt <team> <worker>",
		Short: "Send Ctrl-C to a worker's pane",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withLeader(cmd, func(l *team.Leader) error {
				return l.InterruptWorker(cmd.Context(), args[0], args[1])
			})
		},
	}
}

// newShutdownCmd creates the "crewmux shutdown" subcommand.
func newShutdownCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown <team>",
		Short: "Kill every worker of a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withLeader(cmd, func(l *team.Leader) error {
				err := l.ShutdownTeam(cmd.Context(), args[0])
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "team %s shut down\n", args[0])
				}
				return err
			})
		},
	}
}
