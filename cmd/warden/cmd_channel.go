package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newChannelCmd creates the "warden channel" command group.
func newChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Assign or show worker message channels",
	}
	cmd.AddCommand(newChannelAssignCmd(), newChannelGetCmd())
	return cmd
}

func newChannelAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <worker-id> <channel>",
		Short: "Assign a worker to a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.env.Channels.Assign(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], a.env.Channels.Get(cmd.Context(), args[0]))
			return nil
		},
	}
}

func newChannelGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <worker-id>",
		Short: "Show a worker's channel (main when unassigned or expired)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintln(cmd.OutOrStdout(), a.env.Channels.Get(cmd.Context(), args[0]))
			return nil
		},
	}
}
