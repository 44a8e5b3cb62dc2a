// Package workers is the active-worker registry. The presence of at least
// one fresh entry is what switches protocol enforcement on for a project;
// entries expire lazily WorkerTTL after their last spawn or heartbeat.
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"warden/internal/logging"
	"warden/pkg/protocol"
	"warden/pkg/statestore"
)

// DefaultTTL is the worker lifetime used when Options.TTL is zero.
const DefaultTTL = 10 * time.Minute

// ErrNotFound is returned when a worker or token is unknown or expired.
var ErrNotFound = errors.New("worker not found")

// IDForToken derives the worker id issued with token. It needs no registry
// entry, so a worker keeps its id after its entry expires.
func IDForToken(token string) string {
	if len(token) > 8 {
		token = token[:8]
	}
	return "w-" + token
}

// NewActive builds an unregistered worker record with a fresh token. The
// worker id is derived from the token.
func NewActive(kind, description string) protocol.ActiveWorker {
	token := uuid.NewString()
	return protocol.ActiveWorker{
		WorkerID:    IDForToken(token),
		Kind:        kind,
		Description: description,
		Token:       token,
	}
}

// Options configures a Registry.
type Options struct {
	TTL    time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

// Registry tracks active workers and the supervisor record of one project.
type Registry struct {
	store   statestore.Store
	ttl     time.Duration
	log     *slog.Logger
	nowFunc func() time.Time
}

// New creates a Registry over a project-scoped store.
func New(store statestore.Store, opts Options) *Registry {
	r := &Registry{store: store, ttl: opts.TTL, log: logging.OrDiscard(opts.Logger), nowFunc: opts.Now}
	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}
	if r.nowFunc == nil {
		r.nowFunc = time.Now
	}
	return r
}

// TTL returns the worker lifetime.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Register records w as active. A zero SpawnedAt is stamped with now.
func (r *Registry) Register(ctx context.Context, w protocol.ActiveWorker) error {
	if w.WorkerID == "" {
		return errors.New("register worker: empty worker id")
	}
	if w.SpawnedAt.IsZero() {
		w.SpawnedAt = r.nowFunc().UTC()
	}
	return r.put(ctx, w)
}

func (r *Registry) put(ctx context.Context, w protocol.ActiveWorker) error {
	if err := statestore.PutJSON(ctx, r.store, protocol.KeyWorkers+w.WorkerID, w, w.FreshAt()); err != nil {
		return fmt.Errorf("register worker %s: %w", w.WorkerID, err)
	}
	return nil
}

// Touch refreshes a worker's LastSeenAt. Expired or unknown workers return
// ErrNotFound; a heartbeat cannot resurrect an expired entry.
func (r *Registry) Touch(ctx context.Context, workerID string) error {
	w, err := r.Get(ctx, workerID)
	if err != nil {
		return err
	}
	w.LastSeenAt = r.nowFunc().UTC()
	return r.put(ctx, w)
}

// Remove deletes a worker entry.
func (r *Registry) Remove(ctx context.Context, workerID string) error {
	if err := r.store.Delete(ctx, protocol.KeyWorkers+workerID); err != nil {
		return fmt.Errorf("remove worker %s: %w", workerID, err)
	}
	return nil
}

// Get returns the fresh entry for workerID.
func (r *Registry) Get(ctx context.Context, workerID string) (protocol.ActiveWorker, error) {
	var w protocol.ActiveWorker
	ok, err := statestore.GetJSON(ctx, r.store, protocol.KeyWorkers+workerID, &w)
	if err != nil {
		return w, fmt.Errorf("get worker %s: %w", workerID, err)
	}
	if !ok || !statestore.Fresh(r.nowFunc(), w.FreshAt(), r.ttl) {
		return protocol.ActiveWorker{}, ErrNotFound
	}
	return w, nil
}

// Active returns every worker seen within the TTL, ordered by id.
func (r *Registry) Active(ctx context.Context) ([]protocol.ActiveWorker, error) {
	recs, err := r.store.List(ctx, protocol.KeyWorkers, statestore.Cutoff(r.nowFunc(), r.ttl))
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	out := make([]protocol.ActiveWorker, 0, len(recs))
	for _, rec := range recs {
		var w protocol.ActiveWorker
		if err := json.Unmarshal(rec.Value, &w); err != nil {
			r.log.Warn("skip undecodable worker entry", "key", rec.Key, "error", err)
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// AnyActive reports whether at least one worker is active. A store error
// reads as "none active", which lets the call pass through unenforced.
func (r *Registry) AnyActive(ctx context.Context) bool {
	active, err := r.Active(ctx)
	if err != nil {
		r.log.Warn("worker registry unavailable, treating as no active workers", "error", err)
		return false
	}
	return len(active) > 0
}

// Lookup returns the active worker issued token.
func (r *Registry) Lookup(ctx context.Context, token string) (protocol.ActiveWorker, error) {
	if token == "" {
		return protocol.ActiveWorker{}, ErrNotFound
	}
	active, err := r.Active(ctx)
	if err != nil {
		return protocol.ActiveWorker{}, err
	}
	for _, w := range active {
		if w.Token == token {
			return w, nil
		}
	}
	return protocol.ActiveWorker{}, ErrNotFound
}

// RegisterSupervisor records sessionID as the project's supervisor,
// replacing any previous record.
func (r *Registry) RegisterSupervisor(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("register supervisor: empty session id")
	}
	rec := protocol.SupervisorRecord{SessionID: sessionID, RegisteredAt: r.nowFunc().UTC()}
	if err := statestore.PutJSON(ctx, r.store, protocol.KeySupervisor, rec, rec.RegisteredAt); err != nil {
		return fmt.Errorf("register supervisor: %w", err)
	}
	return nil
}

// Supervisor returns the registered supervisor record. The record does not
// expire.
func (r *Registry) Supervisor(ctx context.Context) (protocol.SupervisorRecord, bool, error) {
	var rec protocol.SupervisorRecord
	ok, err := statestore.GetJSON(ctx, r.store, protocol.KeySupervisor, &rec)
	if err != nil {
		return rec, false, fmt.Errorf("get supervisor: %w", err)
	}
	return rec, ok, nil
}

// BindSession records that sessionID acts as workerID. The binding lives
// for the worker TTL after its last refresh.
func (r *Registry) BindSession(ctx context.Context, sessionID, workerID string) error {
	if sessionID == "" || workerID == "" {
		return errors.New("bind session: empty session or worker id")
	}
	b := protocol.SessionBinding{SessionID: sessionID, WorkerID: workerID, BoundAt: r.nowFunc().UTC()}
	if err := statestore.PutJSON(ctx, r.store, protocol.KeySessions+sessionID, b, b.BoundAt); err != nil {
		return fmt.Errorf("bind session %s to %s: %w", sessionID, workerID, err)
	}
	return nil
}

// SessionWorker returns the worker id bound to sessionID, or ErrNotFound
// when there is no fresh binding.
func (r *Registry) SessionWorker(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrNotFound
	}
	var b protocol.SessionBinding
	ok, err := statestore.GetJSON(ctx, r.store, protocol.KeySessions+sessionID, &b)
	if err != nil {
		return "", fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if !ok || b.WorkerID == "" || !statestore.Fresh(r.nowFunc(), b.BoundAt, r.ttl) {
		return "", ErrNotFound
	}
	return b.WorkerID, nil
}

// Prune deletes expired worker entries and session bindings. It returns how
// many workers were removed.
func (r *Registry) Prune(ctx context.Context) (int, error) {
	cutoff := statestore.Cutoff(r.nowFunc(), r.ttl)
	n, err := statestore.Prune(ctx, r.store, protocol.KeyWorkers, cutoff)
	if err != nil {
		return n, err
	}
	if _, err := statestore.Prune(ctx, r.store, protocol.KeySessions, cutoff); err != nil {
		return n, fmt.Errorf("prune sessions: %w", err)
	}
	return n, nil
}
