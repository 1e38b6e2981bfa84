package main

import (
	"fmt"
	"os"
	"strings"

	"crewmux/pkg/team"

	"github.com/spf13/cobra"
)

// identityFlags name the team and worker a worker-side command acts for.
// Inside a worker pane both default to CREWMUX_TEAM_WORKER.
type identityFlags struct {
	team   string
	worker string
}

func (f *identityFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.team, "team", "", "team name (default: from "+team.EnvTeamWorker+")")
	cmd.Flags().StringVar(&f.worker, "worker", "", "worker name (default: from "+team.EnvTeamWorker+")")
}

func (f *identityFlags) resolve() (string, string, error) {
	return resolveIdentity(f.team, f.worker, os.Getenv)
}

func resolveIdentity(teamName, worker string, getenv func(string) string) (string, string, error) {
	if env := getenv(team.EnvTeamWorker); env != "" {
		t, w, ok := strings.Cut(env, "/")
		if ok {
			if teamName == "" {
				teamName = t
			}
			if worker == "" {
				worker = w
			}
		}
	}
	if teamName == "" {
		teamName = getenv(team.EnvTeam)
	}
	if teamName == "" || worker == "" {
		return "", "", fmt.Errorf("team and worker are required (use --team/--worker or set %s)", team.EnvTeamWorker)
	}
	return teamName, worker, nil
}

// teamArg returns the single team argument or the team from the worker
// environment.
func teamArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if t := os.Getenv(team.EnvTeam); t != "" {
		return t, nil
	}
	return "", fmt.Errorf("team name required")
}
