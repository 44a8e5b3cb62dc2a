package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newStateCmd creates the "warden state" subcommand.
func newStateCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "state <worker-id>",
		Short: "Show or reset a worker's protocol state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			id := args[0]
			w := cmd.OutOrStdout()
			if reset {
				if err := a.env.Tracker.Reset(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(w, "protocol state of %s reset\n", id)
				return nil
			}

			st, err := a.env.Tracker.State(ctx, id)
			if err != nil {
				return err
			}
			th := a.cfg.Thresholds
			p := newPrinter(w)
			p.heading("worker " + id)
			p.line("announced:", fmt.Sprint(st.Announced))
			p.line("claimed:", fmt.Sprint(st.Claimed))
			p.line("used research:", fmt.Sprint(st.UsedResearchTool))
			p.line("searches:", fmt.Sprintf("%d/%d", st.SearchCount, th.SearchLimit))
			p.line("since broadcast check:", fmt.Sprintf("%d/%d", st.ToolUsageCount, th.BroadcastEvery))
			p.line("since help check:", fmt.Sprintf("%d/%d", st.HelpToolUsageCount, th.HelpEvery))
			p.line("blocked:", fmt.Sprint(st.BlockedCount))
			if missing := st.Missing(); len(missing) > 0 {
				p.line("missing:", strings.Join(missing, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "clear the worker's protocol state")

	return cmd
}
