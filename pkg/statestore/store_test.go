package statestore_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"warden/pkg/protocol"
	"warden/pkg/statestore"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("exec schema DDL: %v", err)
	}
	return db
}

// backends returns one fresh instance of every Store implementation.
func backends(t *testing.T) map[string]statestore.Store {
	t.Helper()
	fs, err := statestore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return map[string]statestore.Store{
		"mem":  statestore.NewMemStore(),
		"file": fs,
		"sql":  statestore.NewSQLStore(openTestDB(t)),
	}
}

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Get(ctx, "ns/missing"); err != nil || ok {
				t.Fatalf("Get missing = ok %v err %v, want false nil", ok, err)
			}

			if err := s.Put(ctx, statestore.Record{Key: "ns/a", Value: []byte(`{"x":1}`), UpdatedAt: at}); err != nil {
				t.Fatalf("Put: %v", err)
			}
			rec, ok, err := s.Get(ctx, "ns/a")
			if err != nil || !ok {
				t.Fatalf("Get = ok %v err %v", ok, err)
			}
			if string(rec.Value) != `{"x":1}` {
				t.Errorf("Value = %s", rec.Value)
			}
			if !rec.UpdatedAt.Equal(at) {
				t.Errorf("UpdatedAt = %v, want %v", rec.UpdatedAt, at)
			}

			if err := s.Delete(ctx, "ns/a"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := s.Get(ctx, "ns/a"); ok {
				t.Error("record still present after Delete")
			}
			if err := s.Delete(ctx, "ns/a"); err != nil {
				t.Errorf("Delete missing: %v", err)
			}
		})
	}
}

func TestStore_NonJSONValue(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(ctx, statestore.Record{Key: "ns/raw", Value: []byte("not json")}); err != nil {
				t.Fatalf("Put: %v", err)
			}
			rec, ok, err := s.Get(ctx, "ns/raw")
			if err != nil || !ok {
				t.Fatalf("Get = ok %v err %v", ok, err)
			}
			if string(rec.Value) != "not json" {
				t.Errorf("Value = %q", rec.Value)
			}
			if rec.UpdatedAt.IsZero() {
				t.Error("zero UpdatedAt was not stamped")
			}
		})
	}
}

func TestStore_ListPrefixAndCutoff(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			put := func(key string, age time.Duration) {
				t.Helper()
				if err := statestore.PutJSON(ctx, s, key, key, now.Add(-age)); err != nil {
					t.Fatalf("PutJSON %s: %v", key, err)
				}
			}
			put("p1/workers/b", time.Minute)
			put("p1/workers/a", 20*time.Minute)
			put("p1/claims/c", 0)
			put("p2/workers/z", 0)

			all, err := s.List(ctx, "p1/workers/", time.Time{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(all) != 2 || all[0].Key != "p1/workers/a" || all[1].Key != "p1/workers/b" {
				t.Fatalf("List all = %+v, want a then b", all)
			}

			fresh, err := s.List(ctx, "p1/workers/", statestore.Cutoff(now, 10*time.Minute))
			if err != nil {
				t.Fatalf("List fresh: %v", err)
			}
			if len(fresh) != 1 || fresh[0].Key != "p1/workers/b" {
				t.Errorf("List fresh = %+v, want only b", fresh)
			}

			everything, err := s.List(ctx, "", time.Time{})
			if err != nil {
				t.Fatalf("List everything: %v", err)
			}
			if len(everything) != 4 {
				t.Errorf("List everything = %d records, want 4", len(everything))
			}
		})
	}
}

func TestScoped(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := statestore.Scoped(s, "aaaa")
			b := statestore.Scoped(s, "bbbb")

			if err := statestore.PutJSON(ctx, a, "claims/1", "mine", time.Time{}); err != nil {
				t.Fatalf("PutJSON: %v", err)
			}
			if _, ok, _ := b.Get(ctx, "claims/1"); ok {
				t.Error("namespace b sees namespace a's key")
			}
			var got string
			ok, err := statestore.GetJSON(ctx, a, "claims/1", &got)
			if err != nil || !ok || got != "mine" {
				t.Fatalf("GetJSON = %q ok %v err %v", got, ok, err)
			}

			recs, err := a.List(ctx, "claims/", time.Time{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(recs) != 1 || recs[0].Key != "claims/1" {
				t.Errorf("List keys = %+v, want stripped claims/1", recs)
			}
			if _, ok, _ := s.Get(ctx, "aaaa/claims/1"); !ok {
				t.Error("underlying key not prefixed with namespace")
			}
		})
	}
}

func TestIncrAndCounters(t *testing.T) {
	ctx := context.Background()
	s := statestore.NewMemStore()

	for i := 1; i <= 3; i++ {
		n, err := statestore.Incr(ctx, s, "metrics/fail_open")
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if n != int64(i) {
			t.Errorf("Incr #%d = %d", i, n)
		}
	}
	if _, err := statestore.Incr(ctx, s, "metrics/denied"); err != nil {
		t.Fatalf("Incr: %v", err)
	}

	got, err := statestore.Counters(ctx, s, "metrics/")
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	if got["fail_open"] != 3 || got["denied"] != 1 || len(got) != 2 {
		t.Errorf("Counters = %v", got)
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := statestore.NewMemStore()

	_ = statestore.PutJSON(ctx, s, "workers/old", 1, now.Add(-time.Hour))
	_ = statestore.PutJSON(ctx, s, "workers/new", 1, now)
	_ = statestore.PutJSON(ctx, s, "claims/old", 1, now.Add(-time.Hour))

	n, err := statestore.Prune(ctx, s, "workers/", statestore.Cutoff(now, 10*time.Minute))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune removed %d, want 1", n)
	}
	if _, ok, _ := s.Get(ctx, "workers/old"); ok {
		t.Error("workers/old survived prune")
	}
	if _, ok, _ := s.Get(ctx, "claims/old"); !ok {
		t.Error("prune touched keys outside prefix")
	}
}

func TestFresh(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"just written", 0, true},
		{"exactly ttl", 10 * time.Minute, true},
		{"past ttl", 10*time.Minute + time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := statestore.Fresh(now, now.Add(-tt.age), 10*time.Minute); got != tt.want {
				t.Errorf("Fresh(age=%v) = %v, want %v", tt.age, got, tt.want)
			}
		})
	}
}

func TestFileStore_CorruptShardReadsEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := statestore.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ns.json"), []byte("{garbage"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := fs.Get(ctx, "ns/k"); err != nil || ok {
		t.Fatalf("Get on corrupt shard = ok %v err %v, want false nil", ok, err)
	}
	if err := fs.Put(ctx, statestore.Record{Key: "ns/k", Value: []byte(`1`)}); err != nil {
		t.Fatalf("Put over corrupt shard: %v", err)
	}
	if _, ok, _ := fs.Get(ctx, "ns/k"); !ok {
		t.Error("record missing after rewrite")
	}
}

func TestFileStore_ShardsByNamespace(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := statestore.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	_ = fs.Put(ctx, statestore.Record{Key: "aaaa/x", Value: []byte(`1`)})
	_ = fs.Put(ctx, statestore.Record{Key: "bbbb/x", Value: []byte(`2`)})
	_ = fs.Put(ctx, statestore.Record{Key: "toplevel", Value: []byte(`3`)})

	for _, name := range []string{"aaaa.json", "bbbb.json", "_global.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected shard %s: %v", name, err)
		}
	}

	// a second instance over the same dir sees the same state
	other, _ := statestore.NewFileStore(dir)
	rec, ok, err := other.Get(ctx, "bbbb/x")
	if err != nil || !ok || string(rec.Value) != "2" {
		t.Errorf("second instance Get = %q ok %v err %v", rec.Value, ok, err)
	}
}

// slowStore blocks until its context is done.
type slowStore struct{ statestore.Store }

func (slowStore) Get(ctx context.Context, _ string) (statestore.Record, bool, error) {
	<-ctx.Done()
	return statestore.Record{}, false, ctx.Err()
}

func TestWithTimeout(t *testing.T) {
	s := statestore.WithTimeout(slowStore{statestore.NewMemStore()}, 20*time.Millisecond)

	start := time.Now()
	_, _, err := s.Get(context.Background(), "k")
	if err == nil {
		t.Fatal("Get on slow store returned no error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Get took %v, want bounded by timeout", elapsed)
	}

	if err := s.Put(context.Background(), statestore.Record{Key: "k", Value: []byte("1")}); err != nil {
		t.Errorf("Put through timeout wrapper: %v", err)
	}

	mem := statestore.NewMemStore()
	if statestore.WithTimeout(mem, 0) != statestore.Store(mem) {
		t.Error("zero timeout wrapped the store")
	}
}
