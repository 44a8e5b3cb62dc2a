package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"warden/pkg/protocol"
	"warden/pkg/statestore"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the "warden status" subcommand.
func newStatusCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervisor, active workers, claims and counters",
		Long: "Displays the project's supervisor record, active workers with their channels,\n" +
			"active claims, fail-open and denial counters and whether SQLite is reachable.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			p := newPrinter(cmd.OutOrStdout())
			render := func() error {
				p.clear()
				return printStatus(cmd.Context(), a, p)
			}
			if watch {
				return watchLoop(cmd.Context(), a.log, watchDirs(a), defaultPollInterval, render)
			}
			return render()
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-render on state changes")

	return cmd
}

func printStatus(ctx context.Context, a *app, p *printer) error {
	p.heading("project " + a.project.Root)
	p.line("namespace:", a.project.Namespace)
	p.line("state store:", a.cfg.StateStore)
	if err := a.stack.DBErr(); err != nil {
		p.warn(fmt.Sprintf("  sqlite unavailable, cache-only: %v", err))
	}

	rec, ok, err := a.env.Workers.Supervisor(ctx)
	switch {
	case err != nil:
		p.line("supervisor:", "unreadable: "+err.Error())
	case ok:
		p.line("supervisor:", fmt.Sprintf("%s (since %s)", rec.SessionID, rec.RegisteredAt.Format(time.RFC3339)))
	default:
		p.line("supervisor:", "none")
	}

	fmt.Fprintln(p.w)
	p.heading("workers")
	if err := printWorkers(ctx, a, p); err != nil {
		return err
	}

	fmt.Fprintln(p.w)
	p.heading("claims")
	active, err := a.env.Claims.Active(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	rows := make([][]string, 0, len(active))
	for _, c := range active {
		rows = append(rows, []string{c.OwnerID, relFiles(a.project.Root, c.Files), age(now, c.CreatedAt)})
	}
	p.table([]string{"OWNER", "FILES", "AGE"}, rows)

	fmt.Fprintln(p.w)
	p.heading("counters")
	counts, err := statestore.Counters(ctx, a.env.Store, protocol.KeyMetrics)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) == 0 {
		p.line("", "(none)")
	}
	for _, n := range names {
		p.line(n+":", fmt.Sprint(counts[n]))
	}
	return nil
}
