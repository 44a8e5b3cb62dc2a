package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"warden/pkg/protocol"
)

// SQLStore keeps records in the kv table of the SQLite state database. The
// schema (protocol.SchemaDDL) must already be applied.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a SQLStore backed by db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var (
		val     []byte
		updated string
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, updated_at FROM kv WHERE key = ?`, key).Scan(&val, &updated)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	at, err := time.Parse(protocol.TimeLayout, updated)
	if err != nil {
		return Record{}, false, fmt.Errorf("kv get %s: parse updated_at: %w", key, err)
	}
	return Record{Key: key, Value: val, UpdatedAt: at}, true, nil
}

// Put implements Store.
func (s *SQLStore) Put(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		rec.Key, rec.Value, rec.UpdatedAt.UTC().Format(protocol.TimeLayout),
	)
	if err != nil {
		return fmt.Errorf("kv put %s: %w", rec.Key, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context, prefix string, notBefore time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix), prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("kv list %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			updated string
		)
		if err := rows.Scan(&rec.Key, &rec.Value, &updated); err != nil {
			return nil, fmt.Errorf("kv list scan: %w", err)
		}
		at, err := time.Parse(protocol.TimeLayout, updated)
		if err != nil {
			return nil, fmt.Errorf("kv list %s: parse updated_at: %w", rec.Key, err)
		}
		rec.UpdatedAt = at
		if keep(rec, prefix, notBefore) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv list rows: %w", err)
	}
	return out, nil
}
