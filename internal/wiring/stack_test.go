package wiring

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"warden/pkg/config"
	"warden/pkg/eventlog"
	"warden/pkg/project"
	"warden/pkg/protocol"
	"warden/pkg/statestore"
)

func testPaths(t *testing.T) Paths {
	t.Helper()
	dir := t.TempDir()
	return Paths{
		Home:     dir,
		DBPath:   filepath.Join(dir, "state.db"),
		StateDir: filepath.Join(dir, "state"),
		LogDir:   filepath.Join(dir, "logs"),
	}
}

func TestStack_EnvSharesDurableClaims(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Paths: testPaths(t)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if s.DB() == nil {
		t.Fatalf("DB is nil: %v", s.DBErr())
	}

	p, err := project.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a := s.Env(p)
	id, err := a.Claims.Claim(ctx, "w-1", "edit a", []string{"a.go"})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// A second Env over the same project sees the claim.
	b := s.Env(p)
	cov := b.Claims.IsCovered(ctx, filepath.Join(p.Root, "a.go"))
	if !cov.Covered || cov.ClaimID != id {
		t.Errorf("IsCovered = %+v, want covered by %s", cov, id)
	}

	events, err := eventlog.NewReaderDB(s.DB()).Query(ctx, eventlog.QueryOpts{Project: p.Namespace})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) == 0 || events[0].Type != protocol.EventClaim {
		t.Errorf("events = %+v, want a claim event", events)
	}
}

func TestStack_ProjectsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Paths: testPaths(t)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	p1, _ := project.New(t.TempDir())
	p2, _ := project.New(t.TempDir())

	if err := s.Env(p1).Channels.Assign(ctx, "w-1", "frontend"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got := s.Env(p2).Channels.Get(ctx, "w-1"); got != protocol.MainChannel {
		t.Errorf("other project channel = %q, want %q", got, protocol.MainChannel)
	}
	if _, err := os.Stat(s.Files().ShardPath(p1.Namespace)); err != nil {
		t.Errorf("project shard missing: %v", err)
	}
}

func TestStack_SQLiteStateStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.StateStore = config.StateStoreSQLite
	s, err := Open(ctx, Options{Paths: testPaths(t), Config: cfg})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	p, _ := project.New(t.TempDir())
	if err := s.Env(p).Channels.Assign(ctx, "w-1", "backend"); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	var n int
	err = s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv WHERE key LIKE ?`, p.Namespace+"/%").Scan(&n)
	if err != nil {
		t.Fatalf("count kv: %v", err)
	}
	if n == 0 {
		t.Error("no kv rows under the project namespace")
	}
	if got := s.Env(p).Channels.Get(ctx, "w-1"); got != "backend" {
		t.Errorf("channel = %q, want backend", got)
	}
	if _, err := os.Stat(s.Files().ShardPath(p.Namespace)); !os.IsNotExist(err) {
		t.Errorf("file shard written in sqlite mode: %v", err)
	}
}

func TestStack_CacheOnlyWhenDBUnavailable(t *testing.T) {
	t.Setenv(project.EnvProjectPath, "")
	ctx := context.Background()
	paths := testPaths(t)
	blocker := filepath.Join(paths.Home, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	paths.DBPath = filepath.Join(blocker, "state.db")

	s, err := Open(ctx, Options{Paths: paths})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if s.DB() != nil || s.DBErr() == nil {
		t.Fatal("expected cache-only mode")
	}

	root := t.TempDir()
	env, err := s.EnvFunc()(ctx, root)
	if err != nil {
		t.Fatalf("EnvFunc: %v", err)
	}
	if _, err := env.Claims.Claim(ctx, "w-1", "", []string{"b.go"}); err != nil {
		t.Fatalf("Claim in cache-only mode: %v", err)
	}
	if cov := env.Claims.IsCovered(ctx, filepath.Join(root, "b.go")); !cov.Covered {
		t.Error("cache-only claim not visible")
	}

	counts, err := statestore.Counters(ctx, env.Store, protocol.KeyMetrics)
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	if counts[protocol.MetricStoreUnavailable] == 0 {
		t.Errorf("counters = %v, want store_unavailable counted", counts)
	}
}

func TestStack_SkipDB(t *testing.T) {
	s, err := Open(context.Background(), Options{Paths: testPaths(t), SkipDB: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.DB() != nil {
		t.Error("SkipDB opened a database")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
