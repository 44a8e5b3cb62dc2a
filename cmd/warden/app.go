package main

import (
	"fmt"
	"io"
	"log/slog"

	"warden/internal/logging"
	"warden/internal/wiring"
	"warden/pkg/config"
	"warden/pkg/hook"
	"warden/pkg/project"

	"github.com/spf13/cobra"
)

// app is everything a subcommand needs for one project.
type app struct {
	project project.Project
	cfg     *config.Config
	stack   *wiring.Stack
	env     *hook.Env
	log     *slog.Logger
	logFile io.Closer
}

// openApp resolves the project named by --project and opens its stores.
// Callers must Close the result.
func openApp(cmd *cobra.Command) (*app, error) {
	root, _ := cmd.Flags().GetString(flagProject)
	p, err := project.Resolve(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project: %w", err)
	}

	cfg, err := config.Load(p.Root)
	if err != nil {
		return nil, err
	}

	paths, err := wiring.ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}

	a := &app{project: p, cfg: cfg}
	a.log, a.logFile, err = logging.Open(paths.LogDir, cfg.LogLevel)
	if err != nil {
		a.log, a.logFile = logging.Discard(), io.NopCloser(nil)
	}

	a.stack, err = wiring.Open(cmd.Context(), wiring.Options{Paths: paths, Config: cfg, Logger: a.log})
	if err != nil {
		_ = a.logFile.Close()
		return nil, err
	}
	a.env = a.stack.Env(p)
	return a, nil
}

// Close releases the database and log file.
func (a *app) Close() {
	_ = a.stack.Close()
	_ = a.logFile.Close()
}
