package wiring

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"warden/pkg/protocol"
)

// DefaultBusyTimeout is the sqlite busy_timeout used by the CLI.
const DefaultBusyTimeout = 5 * time.Second

// OpenDB opens the SQLite database at path with WAL mode and the given busy
// timeout, creating its parent directory, and applies the schema.
func OpenDB(ctx context.Context, path string, busy time.Duration) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	// One connection keeps the pragmas below in effect for every statement.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds())); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the schema and the additive column migrations. Migrations
// that fail because the column already exists are ignored.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	_, _ = db.ExecContext(ctx, protocol.MigrateClaimsReleasedAt)
	return nil
}
