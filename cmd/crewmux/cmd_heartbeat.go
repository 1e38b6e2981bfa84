package main

import (
	"fmt"
	"os"
	"time"

	"crewmux/pkg/audit"
	"crewmux/pkg/heartbeat"
	"crewmux/pkg/team"

	"github.com/spf13/cobra"
)

// newHeartbeatCmd creates the "crewmux heartbeat" subcommand, run by
// workers on every poll.
func newHeartbeatCmd(g *globalFlags) *cobra.Command {
	var ident identityFlags
	var (
		state  string
		errs   int
		taskID string
	)
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Record that this worker is alive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			teamName, worker, err := ident.resolve()
			if err != nil {
				return err
			}
			switch heartbeat.Status(state) {
			case heartbeat.StatusIdle, heartbeat.StatusWorking, heartbeat.StatusQuarantined:
			default:
				return fmt.Errorf("unknown status %q (want idle, working or quarantined)", state)
			}
			return g.withLeader(cmd, func(l *team.Leader) error {
				return l.ReportHeartbeat(heartbeat.Record{
					WorkerID:          worker,
					Team:              teamName,
					Status:            heartbeat.Status(state),
					ConsecutiveErrors: errs,
					CurrentTaskID:     taskID,
					PID:               os.Getppid(),
				})
			})
		},
	}
	ident.register(cmd)
	cmd.Flags().StringVarP(&state, "status", "s", string(heartbeat.StatusWorking), "idle, working or quarantined")
	cmd.Flags().IntVar(&errs, "errors", 0, "consecutive errors seen by the worker")
	cmd.Flags().StringVar(&taskID, "task", "", "task the worker is on")
	return cmd
}

// newAuditCmd creates the "crewmux audit" subcommand.
func newAuditCmd(g *globalFlags) *cobra.Command {
	var (
		worker string
		types  []string
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "audit [team]",
		Short: "Show a team's audit log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := teamArg(args)
			if err != nil {
				return err
			}
			return g.withLeader(cmd, func(l *team.Leader) error {
				f := audit.Filter{Worker: worker}
				for _, t := range types {
					f.Types = append(f.Types, audit.EventType(t))
				}
				if since > 0 {
					f.Since = time.Now().Add(-since)
				}
				auditLog, err := l.Audit(name)
				if err != nil {
					return err
				}
				events := auditLog.Read(f)
				if g.json {
					if events == nil {
						events = []audit.Event{}
					}
					return writeJSON(cmd.OutOrStdout(), events)
				}
				st := newStyles(cmd.OutOrStdout())
				for _, ev := range events {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n",
						st.Muted.Render(ev.Timestamp.Local().Format(time.DateTime)), ev.Type, ev.Worker)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&worker, "worker", "w", "", "only this worker's events")
	cmd.Flags().StringSliceVar(&types, "type", nil, "only these event types")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this")
	return cmd
}
