package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"crewmux/pkg/mailbox"
	"crewmux/pkg/team"

	"github.com/spf13/cobra"
)

type messageFlags struct {
	kind       string
	payload    string
	sessionKey string
}

func (f *messageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.kind, "type", "t", "", "message type (required)")
	cmd.Flags().StringVarP(&f.payload, "payload", "p", "", "JSON payload")
	cmd.Flags().StringVar(&f.sessionKey, "session-key", "", "agent session key to correlate replies")
	_ = cmd.MarkFlagRequired("type")
}

func (f *messageFlags) message() (mailbox.Message, error) {
	msg := mailbox.Message{Type: f.kind, SessionKey: f.sessionKey}
	if f.payload != "" {
		if !json.Valid([]byte(f.payload)) {
			return msg, errors.New("--payload must be valid JSON")
		}
		msg.Payload = json.RawMessage(f.payload)
	}
	return msg, nil
}

// newSendCmd creates the "crewmux send" subcommand, run by workers.
func newSendCmd(g *globalFlags) *cobra.Command {
	var ident identityFlags
	var mf messageFlags
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message from this worker to the leader",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			teamName, worker, err := ident.resolve()
			if err != nil {
				return err
			}
			msg, err := mf.message()
			if err != nil {
				return err
			}
			return g.withLeader(cmd, func(l *team.Leader) error {
				return l.Send(cmd.Context(), teamName, worker, msg)
			})
		},
	}
	ident.register(cmd)
	mf.register(cmd)
	return cmd
}

// newReadCmd creates the "crewmux read" subcommand.
func newReadCmd(g *globalFlags) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "read [team]",
		Short: "Consume workers' messages to the leader",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := teamArg(args)
			if err != nil {
				return err
			}
			return g.withLeader(cmd, func(l *team.Leader) error {
				w := cmd.OutOrStdout()
				msgs, err := l.ReadMessages(cmd.Context(), name)
				if !follow {
					if g.json {
						if jerr := writeJSON(w, msgs); jerr != nil {
							return jerr
						}
						return err
					}
					printMessages(w, g, msgs)
					return err
				}
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "read:", err)
				}
				printMessages(w, g, msgs)
				return l.WatchMessages(cmd.Context(), name, func(worker string, batch []mailbox.Message) {
					printMessages(w, g, map[string][]mailbox.Message{worker: batch})
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep reading as workers write")
	return cmd
}

func printMessages(w io.Writer, g *globalFlags, byWorker map[string][]mailbox.Message) {
	workers := make([]string, 0, len(byWorker))
	for k := range byWorker {
		workers = append(workers, k)
	}
	sort.Strings(workers)
	for _, worker := range workers {
		for _, m := range byWorker[worker] {
			if g.json {
				line, err := json.Marshal(m)
				if err == nil {
					fmt.Fprintln(w, string(line))
				}
				continue
			}
			fmt.Fprintf(w, "%s %s %s", m.Timestamp.Format("15:04:05"), worker, m.Type)
			if len(m.Payload) > 0 {
				fmt.Fprintf(w, " %s", m.Payload)
			}
			fmt.Fprintln(w)
		}
	}
}

// newDirectCmd creates the "crewmux direct" subcommand.
func newDirectCmd(g *globalFlags) *cobra.Command {
	var mf messageFlags
	cmd := &cobra.Command{
		Use:   "direct <team> <worker>",
		Short: "Send a directive from the leader to a worker (protocol transport only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := mf.message()
			if err != nil {
				return err
			}
			return g.withLeader(cmd, func(l *team.Leader) error {
				return l.Direct(cmd.Context(), args[0], args[1], msg)
			})
		},
	}
	mf.register(cmd)
	return cmd
}

// newInboxCmd creates the "crewmux inbox" subcommand, run by workers.
func newInboxCmd(g *globalFlags) *cobra.Command {
	var ident identityFlags
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Consume the leader's directives to this worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			teamName, worker, err := ident.resolve()
			if err != nil {
				return err
			}
			return g.withLeader(cmd, func(l *team.Leader) error {
				msgs, err := l.Inbox(cmd.Context(), teamName, worker)
				if err != nil {
					return err
				}
				if g.json {
					if msgs == nil {
						msgs = []mailbox.Message{}
					}
					return writeJSON(cmd.OutOrStdout(), msgs)
				}
				printMessages(cmd.OutOrStdout(), g, map[string][]mailbox.Message{mailbox.LeaderRecipient: msgs})
				return nil
			})
		},
	}
	ident.register(cmd)
	return cmd
}
