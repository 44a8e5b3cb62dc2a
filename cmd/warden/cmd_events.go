package main

import (
	"fmt"
	"time"

	"warden/pkg/eventlog"

	"github.com/spf13/cobra"
)

// newEventsCmd creates the "warden events" subcommand.
func newEventsCmd() *cobra.Command {
	var opts eventlog.QueryOpts
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the decision log: denials, claims, conflicts, fail-opens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			reader, err := openEventReader(a)
			if err != nil {
				return err
			}
			defer func() { _ = reader.Close() }()

			opts.Project = a.project.Namespace
			if since > 0 {
				opts.After = time.Now().Add(-since)
			}
			events, err := reader.Query(cmd.Context(), opts)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(events))
			for _, e := range events {
				rows = append(rows, []string{
					e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Type, e.WorkerID, e.Tool, e.Payload,
				})
			}
			newPrinter(cmd.OutOrStdout()).table([]string{"TIME", "TYPE", "WORKER", "TOOL", "DETAIL"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.WorkerID, "worker", "", "only events of this worker")
	cmd.Flags().StringVar(&opts.EventType, "type", "", "only events of this type (deny, claim, claim_conflict, release, fail_open, spawn)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of events")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this, e.g. 1h")

	return cmd
}

// openEventReader reuses the app's database, or opens it read-only when the
// writable open failed, e.g. on a locked file.
func openEventReader(a *app) (*eventlog.Reader, error) {
	if db := a.stack.DB(); db != nil {
		return eventlog.NewReaderDB(db), nil
	}
	r, err := eventlog.NewReader(a.stack.Paths().DBPath)
	if err != nil {
		return nil, fmt.Errorf("event log unavailable: %w (%v)", a.stack.DBErr(), err)
	}
	return r, nil
}
