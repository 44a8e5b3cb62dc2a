package protocol

// SchemaDDL defines the SQLite schema for the warden state database.
// Tables: claims, kv, events.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Durable file claims, scoped per project namespace
CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    project TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    files TEXT NOT NULL DEFAULT '[]',
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    created_at TEXT NOT NULL,
    released_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_claims_project_status ON claims(project, status);

-- Generic key-value records; keys carry the project namespace as prefix
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at TEXT NOT NULL
);

-- Decision audit log: denials, claim conflicts, fail-open occurrences
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    project TEXT NOT NULL DEFAULT '',
    worker_id TEXT,
    tool TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_events_worker ON events(worker_id);
`

// MigrateClaimsReleasedAt adds released_at to claims tables created before it
// existed. Errors when the column already exists and is ignored by callers.
const MigrateClaimsReleasedAt = `ALTER TABLE claims ADD COLUMN released_at TEXT;`

// TimeLayout is the layout used for every timestamp written to SQLite.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
