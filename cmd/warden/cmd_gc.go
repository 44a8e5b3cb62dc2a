package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// gcResult counts what one gc pass removed.
type gcResult struct {
	Workers  int
	Channels int
	Claims   int
	States   int
}

// newGCCmd creates the "warden gc" subcommand.
func newGCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Prune expired workers, channels, claims and stale protocol state",
		Long: "Expired entries are already ignored on read; gc deletes them from the state\n" +
			"files, marks expired durable claims released and drops the protocol state of\n" +
			"workers that are no longer active.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := collectGarbage(cmd.Context(), a)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d worker(s), %d channel(s), %d protocol state(s); expired %d claim(s)\n",
				res.Workers, res.Channels, res.States, res.Claims)
			return nil
		},
	}
}

func collectGarbage(ctx context.Context, a *app) (gcResult, error) {
	var res gcResult
	var err error
	if res.Workers, err = a.env.Workers.Prune(ctx); err != nil {
		return res, fmt.Errorf("prune workers: %w", err)
	}
	if res.Channels, err = a.env.Channels.Prune(ctx); err != nil {
		return res, fmt.Errorf("prune channels: %w", err)
	}
	if res.Claims, err = a.env.Claims.Expire(ctx); err != nil {
		return res, err
	}

	active, err := a.env.Workers.Active(ctx)
	if err != nil {
		return res, err
	}
	alive := make(map[string]bool, len(active))
	for _, w := range active {
		alive[w.WorkerID] = true
	}
	ids, err := a.env.Tracker.Workers(ctx)
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		if alive[id] {
			continue
		}
		if err := a.env.Tracker.Reset(ctx, id); err != nil {
			return res, err
		}
		res.States++
	}
	return res, nil
}
