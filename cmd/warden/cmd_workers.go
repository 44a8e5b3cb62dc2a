package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"warden/pkg/eventlog"
	"warden/pkg/project"
	"warden/pkg/protocol"
	"warden/pkg/workers"

	"github.com/spf13/cobra"
)

// spawnConfig holds the flags of the spawn command.
type spawnConfig struct {
	kind    string
	desc    string
	channel string
}

// newSpawnCmd creates the "warden spawn" subcommand.
func newSpawnCmd() *cobra.Command {
	var cfg spawnConfig

	cmd := &cobra.Command{
		Use:   "spawn [-- command args...]",
		Short: "Register a worker and print its token, or run a command as that worker",
		Long: "Registers an active worker, assigns its channel and prints its id and token.\n" +
			"With a command after --, runs it with WARDEN_WORKER_TOKEN set, keeps the worker\n" +
			"alive while it runs, then releases its claims and removes it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			w := workers.NewActive(cfg.kind, cfg.desc)
			if err := a.env.Workers.Register(ctx, w); err != nil {
				return err
			}
			channel := cfg.channel
			if channel == "" {
				channel = protocol.MainChannel
			}
			if err := a.env.Channels.Assign(ctx, w.WorkerID, channel); err != nil {
				return err
			}
			if err := a.env.Events.Record(ctx, spawnEntry(w, channel)); err != nil {
				a.log.Debug("record spawn", "error", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "worker %s channel %s\n", w.WorkerID, channel)
			fmt.Fprintf(out, "%s=%s\n", protocol.EnvWorkerToken, w.Token)
			if len(args) == 0 {
				return nil
			}
			return runWorker(ctx, cmd, a, w, args)
		},
	}

	cmd.Flags().StringVar(&cfg.kind, "kind", "", "worker kind, e.g. frontend-dev")
	cmd.Flags().StringVar(&cfg.desc, "desc", "", "what the worker is doing")
	cmd.Flags().StringVar(&cfg.channel, "channel", "", "channel the worker may post to (default main)")

	return cmd
}

func spawnEntry(w protocol.ActiveWorker, channel string) eventlog.Entry {
	return eventlog.Entry{
		Type:     protocol.EventSpawn,
		WorkerID: w.WorkerID,
		Tool:     "warden spawn",
		Payload:  map[string]string{"kind": w.Kind, "description": w.Description, "channel": channel},
	}
}

// runWorker runs args as worker w, heartbeating at half the worker TTL.
func runWorker(ctx context.Context, cmd *cobra.Command, a *app, w protocol.ActiveWorker, args []string) error {
	child := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // the user names the command
	child.Env = append(os.Environ(),
		protocol.EnvWorkerToken+"="+w.Token,
		project.EnvProjectPath+"="+a.project.Root,
	)
	child.Stdin = cmd.InOrStdin()
	child.Stdout = cmd.OutOrStdout()
	child.Stderr = cmd.ErrOrStderr()

	hbCtx, stop := context.WithCancel(ctx)
	defer stop()
	go heartbeat(hbCtx, a, w.WorkerID, a.env.Workers.TTL()/2)

	runErr := child.Run()
	stop()

	// The worker's context may already be cancelled by a signal.
	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := a.env.Claims.Release(cleanup, w.WorkerID, ""); err != nil {
		a.log.Warn("release worker claims", "worker", w.WorkerID, "error", err)
	}
	if err := a.env.Workers.Remove(cleanup, w.WorkerID); err != nil {
		a.log.Warn("remove worker", "worker", w.WorkerID, "error", err)
	}
	return runErr
}

func heartbeat(ctx context.Context, a *app, workerID string, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.env.Workers.Touch(ctx, workerID); err != nil {
				a.log.Warn("heartbeat", "worker", workerID, "error", err)
			}
		}
	}
}

// newWorkersCmd creates the "warden workers" subcommand.
func newWorkersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List active workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return printWorkers(cmd.Context(), a, newPrinter(cmd.OutOrStdout()))
		},
	}
}

func printWorkers(ctx context.Context, a *app, p *printer) error {
	active, err := a.env.Workers.Active(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	rows := make([][]string, 0, len(active))
	for _, w := range active {
		rows = append(rows, []string{
			w.WorkerID, w.Kind, a.env.Channels.Get(ctx, w.WorkerID), age(now, w.FreshAt()), w.Description,
		})
	}
	p.table([]string{"WORKER", "KIND", "CHANNEL", "SEEN", "DESCRIPTION"}, rows)
	return nil
}

// newHeartbeatCmd creates the "warden heartbeat" subcommand.
func newHeartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat <worker-id>",
		Short: "Refresh a worker's liveness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.env.Workers.Touch(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, workers.ErrNotFound) {
					return fmt.Errorf("%s is not active (expired or never spawned)", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s alive\n", args[0])
			return nil
		},
	}
}

// newSupervisorCmd creates the "warden supervisor" subcommand.
func newSupervisorCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "supervisor",
		Short: "Show the supervisor record, or register one with --session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			w := cmd.OutOrStdout()
			if session != "" {
				if err := a.env.Workers.RegisterSupervisor(ctx, session); err != nil {
					return err
				}
				fmt.Fprintf(w, "supervisor %s registered\n", session)
				return nil
			}
			rec, ok, err := a.env.Workers.Supervisor(ctx)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(w, "no supervisor registered")
				return nil
			}
			fmt.Fprintf(w, "supervisor %s since %s\n", rec.SessionID, rec.RegisteredAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session id to register as supervisor")

	return cmd
}
