package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"crewmux/pkg/heartbeat"
	"crewmux/pkg/status"
	"crewmux/pkg/team"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the "crewmux status" subcommand.
func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [team]",
		Short: "Show workers, heartbeats and task counts",
		Long:  "Shows one team, or every team with state in the project when no team is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withLeader(cmd, func(l *team.Leader) error {
				teams := args
				if len(teams) == 0 {
					teams = l.Teams()
				}
				out := make([]status.TeamStatus, 0, len(teams))
				for _, t := range teams {
					ts, err := l.Status(cmd.Context(), t)
					if err != nil {
						return err
					}
					out = append(out, ts)
				}
				if g.json {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				if len(out) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no teams")
					return nil
				}
				st := newStyles(cmd.OutOrStdout())
				for _, ts := range out {
					renderStatus(cmd.OutOrStdout(), ts, st)
				}
				return nil
			})
		},
	}
}

func renderStatus(w io.Writer, ts status.TeamStatus, st styles) {
	fmt.Fprintln(w, st.Section.Render("Team "+ts.Team))
	s := ts.Tasks
	fmt.Fprintf(w, "tasks: %d total, %d pending, %d in progress, %d completed, %d failed\n",
		s.Total, s.Pending, s.InProgress, s.Completed, s.Failed)
	if len(ts.Workers) == 0 {
		fmt.Fprintln(w, st.Muted.Render("no workers"))
		fmt.Fprintln(w)
		return
	}
	rows := make([][]string, 0, len(ts.Workers))
	for _, ws := range ts.Workers {
		state := st.Bad.Render("stale")
		if ws.Alive {
			state = st.Good.Render("alive")
		}
		hb := "-"
		if ws.Heartbeat != nil {
			hb = string(ws.Heartbeat.Status)
		}
		task := "-"
		if ws.CurrentTask != nil {
			task = ws.CurrentTask.ID
		}
		rows = append(rows, []string{
			ws.Worker.Name, ws.Worker.AgentType, state, hb, task,
			formatUptime(ws.Uptime), strconv.Itoa(len(ws.RecentMessages)),
		})
	}
	fmt.Fprint(w, table([]string{"WORKER", "AGENT", "HEARTBEAT", "STATUS", "TASK", "UPTIME", "MSGS"}, rows, st))
	fmt.Fprintln(w)
}

func formatUptime(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Truncate(time.Second).String()
}

// newHealthCmd creates the "crewmux health" subcommand.
func newHealthCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health <team>",
		Short: "Check worker liveness and recommend interventions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := teamArg(args)
			if err != nil {
				return err
			}
			return g.withLeader(cmd, func(l *team.Leader) error {
				hr, err := l.Health(cmd.Context(), name)
				if err != nil {
					return err
				}
				if g.json {
					return writeJSON(cmd.OutOrStdout(), hr)
				}
				renderHealth(cmd.OutOrStdout(), hr, newStyles(cmd.OutOrStdout()))
				return nil
			})
		},
	}
}

func renderHealth(w io.Writer, hr team.HealthReport, st styles) {
	fmt.Fprintln(w, st.Section.Render("Health "+hr.Team))
	rows := make([][]string, 0, len(hr.Workers))
	for _, r := range hr.Workers {
		pane := "dead"
		if r.PaneAlive {
			pane = "alive"
		}
		rows = append(rows, []string{
			r.Worker, r.Status, pane, strconv.Itoa(r.ConsecutiveErrors),
			fmt.Sprintf("%d/%d", r.TasksCompleted, r.TasksFailed), formatUptime(r.Uptime),
		})
	}
	fmt.Fprint(w, table([]string{"WORKER", "STATUS", "PANE", "ERRORS", "DONE/FAILED", "UPTIME"}, rows, st))
	if len(hr.Interventions) == 0 {
		fmt.Fprintln(w, st.Good.Render("no interventions needed"))
		return
	}
	for _, iv := range hr.Interventions {
		style := st.Warn
		if iv.Kind == heartbeat.KindDead || iv.Kind == heartbeat.KindQuarantined {
			style = st.Bad
		}
		fmt.Fprintf(w, "%s %s: %s; %s\n", style.Render(strings.ToUpper(string(iv.Kind))), iv.Worker, iv.Reason, iv.Action)
	}
}
