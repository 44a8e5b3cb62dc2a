package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"warden/pkg/protocol"
)

// Entry is one event to record.
type Entry struct {
	Type     string
	WorkerID string
	Tool     string
	// Payload is stored as-is when it is a string, JSON-encoded otherwise.
	Payload any
}

// Recorder appends events for one project. A nil *Recorder records nothing,
// so callers running without SQLite need no special casing.
type Recorder struct {
	db      *sql.DB
	project string
	now     func() time.Time
}

// NewRecorder returns a Recorder writing rows tagged with project.
func NewRecorder(db *sql.DB, project string) *Recorder {
	return &Recorder{db: db, project: project, now: time.Now}
}

// Record inserts e.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if r == nil || r.db == nil {
		return nil
	}

	var payload string
	switch p := e.Payload.(type) {
	case nil:
	case string:
		payload = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", e.Type, err)
		}
		payload = string(b)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (type, project, worker_id, tool, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Type, r.project, nullIfEmpty(e.WorkerID), nullIfEmpty(e.Tool), payload,
		r.now().UTC().Format(protocol.TimeLayout),
	)
	if err != nil {
		return fmt.Errorf("record %s event: %w", e.Type, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
