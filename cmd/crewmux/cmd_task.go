package main

import (
	"fmt"
	"io"

	"crewmux/pkg/taskqueue"
	"crewmux/pkg/team"

	"github.com/spf13/cobra"
)

// newTaskCmd creates the "crewmux task" command group.
func newTaskCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage a team's task queue",
	}
	cmd.AddCommand(
		newTaskCreateCmd(g),
		newTaskListCmd(g),
		newTaskClaimCmd(g),
		newTaskCompleteCmd(g),
		newTaskFailCmd(g),
		newTaskReleaseCmd(g),
	)
	return cmd
}

func newTaskCreateCmd(g *globalFlags) *cobra.Command {
	var id, description string
	cmd := &cobra.Command{
		Use:   "create <team> <subject>",
		Short: "Add a pending task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withLeader(cmd, func(l *team.Leader) error {
				t, err := l.CreateTask(args[0], taskqueue.Task{ID: id, Subject: args[1], Description: description})
				if err != nil {
					return err
				}
				return printTask(cmd.OutOrStdout(), g, t, "created")
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "task id (default: generated)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	return cmd
}

func newTaskListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list [team]",
		Short: "List a team's tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := teamArg(args)
			if err != nil {
				return err
			}
			return g.withLeader(cmd, func(l *team.Leader) error {
				store, err := l.Tasks(name)
				if err != nil {
					return err
				}
				tasks := store.List()
				if g.json {
					if tasks == nil {
						tasks = []taskqueue.Task{}
					}
					return writeJSON(cmd.OutOrStdout(), tasks)
				}
				st := newStyles(cmd.OutOrStdout())
				rows := make([][]string, 0, len(tasks))
				for _, t := range tasks {
					state := string(t.Status)
					if t.PermanentlyFailed {
						state = st.Bad.Render("failed")
					}
					owner := t.Owner
					if owner == "" {
						owner = "-"
					}
					rows = append(rows, []string{t.ID, state, owner, t.Subject})
				}
				fmt.Fprint(cmd.OutOrStdout(), table([]string{"ID", "STATUS", "OWNER", "SUBJECT"}, rows, st))
				return nil
			})
		},
	}
}

// taskAction builds a worker-side task transition command.
func taskAction(g *globalFlags, use, short, verb, textFlag, textUsage string,
	op func(l *team.Leader, teamName, id, worker, text string) (taskqueue.Task, error),
) *cobra.Command {
	var ident identityFlags
	var text string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			teamName, worker, err := ident.resolve()
			if err != nil {
				return err
			}
			return g.withLeader(cmd, func(l *team.Leader) error {
				t, err := op(l, teamName, args[0], worker, text)
				if err != nil {
					return err
				}
				return printTask(cmd.OutOrStdout(), g, t, verb)
			})
		},
	}
	ident.register(cmd)
	if textFlag != "" {
		cmd.Flags().StringVar(&text, textFlag, "", textUsage)
	}
	return cmd
}

func newTaskClaimCmd(g *globalFlags) *cobra.Command {
	return taskAction(g, "claim <id>", "Claim a pending task for this worker", "claimed", "", "",
		func(l *team.Leader, teamName, id, worker, _ string) (taskqueue.Task, error) {
			return l.ClaimTask(teamName, id, worker)
		})
}

func newTaskCompleteCmd(g *globalFlags) *cobra.Command {
	return taskAction(g, "complete <id>", "Mark this worker's task completed", "completed", "result", "result summary",
		func(l *team.Leader, teamName, id, worker, result string) (taskqueue.Task, error) {
			return l.CompleteTask(teamName, id, worker, result)
		})
}

func newTaskFailCmd(g *globalFlags) *cobra.Command {
	return taskAction(g, "fail <id>", "Permanently fail this worker's task", "failed", "reason", "why the task cannot be done",
		func(l *team.Leader, teamName, id, worker, reason string) (taskqueue.Task, error) {
			return l.FailTask(teamName, id, worker, reason)
		})
}

func newTaskReleaseCmd(g *globalFlags) *cobra.Command {
	return taskAction(g, "release <id>", "Return this worker's task to the queue", "released", "", "",
		func(l *team.Leader, teamName, id, worker, _ string) (taskqueue.Task, error) {
			return l.ReleaseTask(teamName, id, worker)
		})
}

func printTask(w io.Writer, g *globalFlags, t taskqueue.Task, verb string) error {
	if g.json {
		return writeJSON(w, t)
	}
	fmt.Fprintf(w, "%s task %s (%s)\n", verb, t.ID, t.Status)
	return nil
}
