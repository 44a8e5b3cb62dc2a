package workers_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"warden/pkg/protocol"
	"warden/pkg/statestore"
	"warden/pkg/workers"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newRegistry(t *testing.T) (*workers.Registry, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := statestore.Scoped(statestore.NewMemStore(), "0123456789ab")
	return workers.New(store, workers.Options{TTL: 10 * time.Minute, Now: clk.Now}), clk
}

func TestRegisterAndActive(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	if reg.AnyActive(ctx) {
		t.Fatal("AnyActive on empty registry")
	}
	for _, id := range []string{"w2", "w1"} {
		if err := reg.Register(ctx, protocol.ActiveWorker{WorkerID: id, Kind: "coder", Token: "tok-" + id}); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}

	active, err := reg.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 2 || active[0].WorkerID != "w1" || active[1].WorkerID != "w2" {
		t.Errorf("Active = %+v", active)
	}
	if active[0].SpawnedAt.IsZero() {
		t.Error("SpawnedAt not stamped")
	}
	if !reg.AnyActive(ctx) {
		t.Error("AnyActive = false with two workers")
	}
}

func TestRegister_EmptyID(t *testing.T) {
	reg, _ := newRegistry(t)
	if err := reg.Register(context.Background(), protocol.ActiveWorker{}); err == nil {
		t.Error("Register with empty id succeeded")
	}
}

func TestExpiryAndHeartbeat(t *testing.T) {
	reg, clk := newRegistry(t)
	ctx := context.Background()

	_ = reg.Register(ctx, protocol.ActiveWorker{WorkerID: "w1"})
	_ = reg.Register(ctx, protocol.ActiveWorker{WorkerID: "w2"})

	clk.Advance(8 * time.Minute)
	if err := reg.Touch(ctx, "w1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	clk.Advance(3 * time.Minute)
	active, _ := reg.Active(ctx)
	if len(active) != 1 || active[0].WorkerID != "w1" {
		t.Fatalf("Active after 11m = %+v, want only heartbeated w1", active)
	}
	if _, err := reg.Get(ctx, "w2"); !errors.Is(err, workers.ErrNotFound) {
		t.Errorf("Get expired = %v, want ErrNotFound", err)
	}
	if err := reg.Touch(ctx, "w2"); !errors.Is(err, workers.ErrNotFound) {
		t.Errorf("Touch expired = %v, want ErrNotFound", err)
	}

	clk.Advance(10 * time.Minute)
	if reg.AnyActive(ctx) {
		t.Error("workers still active 10m after last heartbeat")
	}
}

func TestLookup(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	_ = reg.Register(ctx, protocol.ActiveWorker{WorkerID: "w1", Token: "abc"})

	w, err := reg.Lookup(ctx, "abc")
	if err != nil || w.WorkerID != "w1" {
		t.Errorf("Lookup = %+v, %v", w, err)
	}
	for _, tok := range []string{"", "nope"} {
		if _, err := reg.Lookup(ctx, tok); !errors.Is(err, workers.ErrNotFound) {
			t.Errorf("Lookup(%q) = %v, want ErrNotFound", tok, err)
		}
	}
}

func TestRemoveAndPrune(t *testing.T) {
	reg, clk := newRegistry(t)
	ctx := context.Background()

	_ = reg.Register(ctx, protocol.ActiveWorker{WorkerID: "w1"})
	_ = reg.Register(ctx, protocol.ActiveWorker{WorkerID: "w2"})
	if err := reg.Remove(ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(20 * time.Minute)
	_ = reg.Register(ctx, protocol.ActiveWorker{WorkerID: "w3"})

	n, err := reg.Prune(ctx)
	if err != nil || n != 1 {
		t.Errorf("Prune = %d, %v; want 1 (w2)", n, err)
	}
	active, _ := reg.Active(ctx)
	if len(active) != 1 || active[0].WorkerID != "w3" {
		t.Errorf("Active = %+v", active)
	}
}

func TestSupervisor(t *testing.T) {
	reg, clk := newRegistry(t)
	ctx := context.Background()

	if _, ok, err := reg.Supervisor(ctx); err != nil || ok {
		t.Fatalf("Supervisor on empty = %v, %v", ok, err)
	}
	if err := reg.RegisterSupervisor(ctx, "sess-1"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(24 * time.Hour)
	rec, ok, err := reg.Supervisor(ctx)
	if err != nil || !ok || rec.SessionID != "sess-1" {
		t.Errorf("Supervisor = %+v, %v, %v", rec, ok, err)
	}
	if err := reg.RegisterSupervisor(ctx, ""); err == nil {
		t.Error("RegisterSupervisor with empty id succeeded")
	}
}

func TestNewActive(t *testing.T) {
	a := workers.NewActive("coder", "build the parser")
	b := workers.NewActive("coder", "")
	if a.Token == "" || a.Token == b.Token {
		t.Fatalf("tokens not unique: %q %q", a.Token, b.Token)
	}
	if a.WorkerID != "w-"+a.Token[:8] {
		t.Errorf("WorkerID = %q, want derived from token %q", a.WorkerID, a.Token)
	}
	if a.Kind != "coder" || a.Description != "build the parser" {
		t.Errorf("NewActive() = %+v", a)
	}
	if !a.SpawnedAt.IsZero() {
		t.Error("NewActive stamped SpawnedAt; Register does that")
	}
}

func TestIDForToken(t *testing.T) {
	tests := []struct{ token, want string }{
		{"4f1c9e27-aaaa-bbbb-cccc-0123456789ab", "w-4f1c9e27"},
		{"short", "w-short"},
	}
	for _, tt := range tests {
		if got := workers.IDForToken(tt.token); got != tt.want {
			t.Errorf("IDForToken(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}

func TestSessionBinding(t *testing.T) {
	reg, clk := newRegistry(t)
	ctx := context.Background()

	if _, err := reg.SessionWorker(ctx, "x1"); !errors.Is(err, workers.ErrNotFound) {
		t.Fatalf("SessionWorker unbound = %v, want ErrNotFound", err)
	}
	if err := reg.BindSession(ctx, "x1", "w1"); err != nil {
		t.Fatal(err)
	}
	if id, err := reg.SessionWorker(ctx, "x1"); err != nil || id != "w1" {
		t.Errorf("SessionWorker = %q, %v; want w1", id, err)
	}
	if err := reg.BindSession(ctx, "", "w1"); err == nil {
		t.Error("BindSession with empty session succeeded")
	}

	clk.Advance(11 * time.Minute)
	if _, err := reg.SessionWorker(ctx, "x1"); !errors.Is(err, workers.ErrNotFound) {
		t.Errorf("stale binding = %v, want ErrNotFound", err)
	}
	if _, err := reg.Prune(ctx); err != nil {
		t.Fatal(err)
	}
	if err := reg.BindSession(ctx, "x2", "w2"); err != nil {
		t.Fatal(err)
	}
	if id, _ := reg.SessionWorker(ctx, "x2"); id != "w2" {
		t.Errorf("SessionWorker(x2) = %q after prune", id)
	}
}
