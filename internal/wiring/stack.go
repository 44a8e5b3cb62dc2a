package wiring

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"warden/internal/logging"
	"warden/pkg/channels"
	"warden/pkg/claims"
	"warden/pkg/classifier"
	"warden/pkg/config"
	"warden/pkg/eventlog"
	"warden/pkg/hook"
	"warden/pkg/project"
	"warden/pkg/protocol"
	"warden/pkg/statestore"
	"warden/pkg/tracker"
	"warden/pkg/workers"
)

// Options configures Open.
type Options struct {
	Paths  Paths
	Config *config.Config
	Logger *slog.Logger
	// BusyTimeout is the sqlite busy_timeout. Default: DefaultBusyTimeout.
	BusyTimeout time.Duration
	// OpenTimeout bounds opening the database. Zero means no bound.
	OpenTimeout time.Duration
	// SkipDB runs cache-only without touching SQLite.
	SkipDB bool
	// Now overrides the clock of every registry.
	Now func() time.Time
}

// Stack owns the shared stores and builds per-project Envs over them.
type Stack struct {
	paths Paths
	cfg   *config.Config
	log   *slog.Logger
	now   func() time.Time

	files *statestore.FileStore
	db    *sql.DB // nil in cache-only mode
	dbErr error
}

// Open creates the state directory and opens the database. A database that
// cannot be opened leaves the Stack in cache-only mode rather than failing.
func Open(ctx context.Context, opts Options) (*Stack, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Stack{paths: opts.Paths, cfg: cfg, log: logging.OrDiscard(opts.Logger), now: opts.Now}

	files, err := statestore.NewFileStore(opts.Paths.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open state dir: %w", err)
	}
	s.files = files

	if opts.SkipDB {
		return s, nil
	}
	openCtx := ctx
	if opts.OpenTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, opts.OpenTimeout)
		defer cancel()
	}
	db, err := OpenDB(openCtx, opts.Paths.DBPath, opts.BusyTimeout)
	if err != nil {
		s.dbErr = &protocol.StoreUnavailableError{Store: "sqlite", Op: "open", Err: err}
		s.log.Warn("sqlite unavailable, running cache-only", "path", opts.Paths.DBPath, "error", err)
		return s, nil
	}
	s.db = db
	return s, nil
}

// Config returns the configuration the Stack was opened with.
func (s *Stack) Config() *config.Config { return s.cfg }

// Paths returns the resolved locations.
func (s *Stack) Paths() Paths { return s.paths }

// DB returns the database, or nil in cache-only mode.
func (s *Stack) DB() *sql.DB { return s.db }

// DBErr reports why the Stack is cache-only, or nil.
func (s *Stack) DBErr() error { return s.dbErr }

// Files returns the unscoped ephemeral store.
func (s *Stack) Files() *statestore.FileStore { return s.files }

// Close releases the database.
func (s *Stack) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Env assembles the components for project p.
func (s *Stack) Env(p project.Project) *hook.Env {
	th := s.cfg.Thresholds
	timeout := s.cfg.StoreTimeout.D()
	// The claims cache stays on files so it survives a locked database.
	cache := statestore.WithTimeout(statestore.Scoped(s.files, p.Namespace), timeout)
	store := cache
	if s.cfg.StateStore == config.StateStoreSQLite && s.db != nil {
		store = statestore.WithTimeout(statestore.Scoped(statestore.NewSQLStore(s.db), p.Namespace), timeout)
	}
	log := s.log.With("project", p.Namespace)

	var (
		events  *eventlog.Recorder
		primary claims.Backend
	)
	if s.db != nil {
		events = eventlog.NewRecorder(s.db, p.Namespace)
		primary = claims.NewSQLBackend(s.db, p.Namespace)
	}

	cr := claims.New(primary, claims.NewCacheBackend(cache), claims.Options{
		Root:    p.Root,
		TTL:     th.ClaimTTL.D(),
		Logger:  log,
		Metrics: store,
		Events:  events,
		Now:     s.now,
	})
	wr := workers.New(store, workers.Options{TTL: th.WorkerTTL.D(), Logger: log, Now: s.now})
	ch := channels.New(store, channels.Options{TTL: th.ChannelTTL.D(), Logger: log, Now: s.now})
	tr := tracker.New(store, cr, ch, tracker.Options{
		Thresholds: th,
		Tools:      s.cfg.Tools,
		Logger:     log,
		Metrics:    store,
		Events:     events,
	})

	return &hook.Env{
		Project:    p,
		Claims:     cr,
		Workers:    wr,
		Channels:   ch,
		Classifier: classifier.New(wr, log, store),
		Tracker:    tr,
		Store:      store,
		Events:     events,
	}
}

// EnvFunc resolves the project for each hook call and builds its Env.
// Cache-only mode is counted once per call.
func (s *Stack) EnvFunc() hook.EnvFunc {
	return func(ctx context.Context, cwd string) (*hook.Env, error) {
		p, err := project.Resolve(cwd)
		if err != nil {
			return nil, fmt.Errorf("resolve project: %w", err)
		}
		env := s.Env(p)
		if s.dbErr != nil {
			statestore.CountMetric(ctx, env.Store, protocol.MetricStoreUnavailable)
		}
		return env, nil
	}
}
