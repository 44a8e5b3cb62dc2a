// Package classifier decides whether the session behind a tool call is the
// supervisor or a spawned worker.
//
// Resolution order: an explicit spawn-time marker wins; then a session bound
// to a worker by an earlier marked call; then the registered supervisor
// record; then, if any worker is active, the session is treated as a worker
// by exclusion (logged and counted, never blocking); otherwise it is the
// supervisor.
//
// Every call attributed to a known worker refreshes its liveness, so a busy
// worker does not expire.
package classifier

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"warden/internal/logging"
	"warden/pkg/protocol"
	"warden/pkg/statestore"
	"warden/pkg/workers"
)

// Source names the rule that produced a verdict.
type Source string

// Verdict sources, in resolution order.
const (
	SourceMarker     Source = "marker"
	SourceSession    Source = "session"
	SourceSupervisor Source = "supervisor"
	SourceExclusion  Source = "exclusion"
	SourceDefault    Source = "default"
)

// Marker is identity attached to a session at spawn time, read from the
// WARDEN_WORKER_TOKEN / WARDEN_ROLE environment or the warden_token tool
// argument.
type Marker struct {
	Token string
	Role  string
}

// Empty reports whether the marker carries no identity.
func (m Marker) Empty() bool { return m.Token == "" && m.Role == "" }

// Session identifies the caller of one tool call.
type Session struct {
	SessionID string
	Marker    Marker
}

// Verdict is the classification of a session.
type Verdict struct {
	Role     protocol.Role
	WorkerID string
	Source   Source
}

// IsWorker reports whether the verdict subjects the call to enforcement.
func (v Verdict) IsWorker() bool { return v.Role == protocol.RoleWorker }

// Directory is the part of the worker registry the classifier uses.
type Directory interface {
	Lookup(ctx context.Context, token string) (protocol.ActiveWorker, error)
	Supervisor(ctx context.Context) (protocol.SupervisorRecord, bool, error)
	AnyActive(ctx context.Context) bool
	Touch(ctx context.Context, workerID string) error
	BindSession(ctx context.Context, sessionID, workerID string) error
	SessionWorker(ctx context.Context, sessionID string) (string, error)
}

// Classifier resolves sessions against a Directory.
type Classifier struct {
	dir     Directory
	log     *slog.Logger
	metrics statestore.Store
}

// New creates a Classifier. metrics may be nil.
func New(dir Directory, log *slog.Logger, metrics statestore.Store) *Classifier {
	return &Classifier{dir: dir, log: logging.OrDiscard(log), metrics: metrics}
}

// Classify resolves s.
func (c *Classifier) Classify(ctx context.Context, s Session) Verdict {
	if v, ok := c.fromMarker(ctx, s); ok {
		return v
	}

	if id, err := c.dir.SessionWorker(ctx, s.SessionID); err == nil {
		c.seen(ctx, s.SessionID, id, false)
		return Verdict{Role: protocol.RoleWorker, WorkerID: id, Source: SourceSession}
	} else if !errors.Is(err, workers.ErrNotFound) {
		c.log.Warn("session binding unreadable", "session", s.SessionID, "error", err)
	}

	if c.isSupervisor(ctx, s.SessionID) {
		return Verdict{Role: protocol.RoleSupervisor, Source: SourceSupervisor}
	}

	if c.dir.AnyActive(ctx) {
		c.log.Warn("classified by exclusion",
			"session", s.SessionID, "error", protocol.ErrClassificationAmbiguous)
		statestore.CountMetric(ctx, c.metrics, protocol.MetricAmbiguous)
		return Verdict{Role: protocol.RoleWorker, WorkerID: s.SessionID, Source: SourceExclusion}
	}

	return Verdict{Role: protocol.RoleSupervisor, Source: SourceDefault}
}

func (c *Classifier) fromMarker(ctx context.Context, s Session) (Verdict, bool) {
	m := s.Marker
	if tok := strings.TrimSpace(m.Token); tok != "" {
		id := workers.IDForToken(tok)
		w, err := c.dir.Lookup(ctx, tok)
		switch {
		case err == nil:
			id = w.WorkerID
		case !errors.Is(err, workers.ErrNotFound):
			c.log.Warn("worker token lookup failed", "error", err)
		}
		c.seen(ctx, s.SessionID, id, true)
		return Verdict{Role: protocol.RoleWorker, WorkerID: id, Source: SourceMarker}, true
	}
	if strings.EqualFold(strings.TrimSpace(m.Role), string(protocol.RoleSupervisor)) {
		return Verdict{Role: protocol.RoleSupervisor, Source: SourceMarker}, true
	}
	return Verdict{}, false
}

// seen refreshes the worker's liveness and its session binding. A marked
// call binds the session unless it is the supervisor's.
func (c *Classifier) seen(ctx context.Context, sessionID, workerID string, marked bool) {
	if err := c.dir.Touch(ctx, workerID); err != nil && !errors.Is(err, workers.ErrNotFound) {
		c.log.Warn("worker heartbeat failed", "worker", workerID, "error", err)
	}
	if sessionID == "" || (marked && c.isSupervisor(ctx, sessionID)) {
		return
	}
	if err := c.dir.BindSession(ctx, sessionID, workerID); err != nil {
		c.log.Warn("session not bound", "session", sessionID, "worker", workerID, "error", err)
	}
}

func (c *Classifier) isSupervisor(ctx context.Context, sessionID string) bool {
	rec, ok, err := c.dir.Supervisor(ctx)
	if err != nil {
		c.log.Warn("supervisor record unreadable", "error", err)
		return false
	}
	return ok && sessionID != "" && rec.SessionID == sessionID
}
