package protocol_test

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"warden/pkg/protocol"
)

func TestSchemaExecsCleanly(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("exec schema DDL: %v", err)
	}
	// Idempotent: a second apply must not fail.
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("re-exec schema DDL: %v", err)
	}
}

func TestSchemaCreatesExpectedTables(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"claims", "kv", "events"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("expected table %q not found: %v", table, err)
		}
	}
}

func TestMigrateClaimsReleasedAt_FailsWhenColumnExists(t *testing.T) {
	db := openTestDB(t)

	// Columns already exist in the current DDL; callers ignore this error.
	if _, err := db.Exec(protocol.MigrateClaimsReleasedAt); err == nil {
		t.Error("expected duplicate-column error on fresh schema")
	}
}

func TestEventsCreatedAtDefault(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.Exec(`INSERT INTO events (type, project) VALUES ('deny', 'abc')`); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	var created string
	if err := db.QueryRow(`SELECT created_at FROM events WHERE id = 1`).Scan(&created); err != nil {
		t.Fatalf("select created_at: %v", err)
	}
	if len(created) < len("2006-01-02T15:04:05Z") {
		t.Errorf("created_at default looks wrong: %q", created)
	}
}
