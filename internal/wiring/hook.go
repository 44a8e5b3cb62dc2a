package wiring

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"warden/internal/logging"
	"warden/pkg/config"
	"warden/pkg/hook"
	"warden/pkg/project"
)

// RunHook handles one hook payload end to end: it resolves paths, loads the
// project config, opens the stores and returns the hook response. Any setup
// failure returns the allow response.
func RunHook(ctx context.Context, input []byte) []byte {
	var peek struct {
		Cwd string `json:"cwd"`
	}
	_ = json.Unmarshal(input, &peek)

	paths, err := ResolvePaths()
	if err != nil {
		return hook.AllowJSON()
	}

	cfg, cfgErr := loadConfig(peek.Cwd)
	log, closer := openLog(paths.LogDir, cfg.LogLevel)
	defer func() { _ = closer.Close() }()
	if cfgErr != nil {
		log.Warn("config unreadable, using defaults", "error", cfgErr)
	}

	stack, err := Open(ctx, Options{
		Paths:       paths,
		Config:      cfg,
		Logger:      log,
		BusyTimeout: cfg.StoreTimeout.D(),
		OpenTimeout: cfg.StoreTimeout.D(),
	})
	if err != nil {
		log.Warn("state unavailable, allowing", "error", err)
		return hook.AllowJSON()
	}
	defer func() { _ = stack.Close() }()

	return hook.New(stack.EnvFunc(), hook.Options{Config: cfg, Logger: log}).Handle(ctx, input)
}

// loadConfig loads the config of the project containing cwd. It always
// returns a usable config.
func loadConfig(cwd string) (*config.Config, error) {
	p, err := project.Resolve(cwd)
	if err != nil {
		return config.Default(), err
	}
	cfg, err := config.Load(p.Root)
	if err != nil {
		return config.Default(), err
	}
	return cfg, nil
}

// openLog opens the file logger, or a discarding one when the log dir is
// unwritable.
func openLog(dir, level string) (*slog.Logger, io.Closer) {
	log, closer, err := logging.Open(dir, level)
	if err != nil {
		return logging.Discard(), io.NopCloser(nil)
	}
	return log, closer
}
