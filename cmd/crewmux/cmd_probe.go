package main

import (
	"fmt"

	"crewmux/pkg/agentcli"
	"crewmux/pkg/team"

	"github.com/spf13/cobra"
)

// newProbeCmd creates the "crewmux probe" subcommand.
func newProbeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe [binary...]",
		Short: "Check which agent CLIs are installed and runnable",
		RunE: func(cmd *cobra.Command, args []string) error {
			binaries := args
			if len(binaries) == 0 {
				for _, t := range agentcli.Types() {
					c, _ := agentcli.Lookup(t)
					binaries = append(binaries, c.Binary())
				}
			}
			return g.withLeader(cmd, func(l *team.Leader) error {
				res := l.Probe(cmd.Context(), binaries)
				if g.json {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				st := newStyles(cmd.OutOrStdout())
				rows := make([][]string, 0, len(res))
				for _, a := range res {
					state, detail := st.Good.Render("ok"), a.Version
					if !a.Available {
						state, detail = st.Bad.Render("missing"), a.Err
					}
					rows = append(rows, []string{a.Name, state, a.Path, detail})
				}
				fmt.Fprint(cmd.OutOrStdout(), table([]string{"BINARY", "STATE", "PATH", "DETAIL"}, rows, st))
				return nil
			})
		},
	}
}
