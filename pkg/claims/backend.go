package claims

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"warden/pkg/protocol"
)

// Backend persists claims for one project.
type Backend interface {
	// Name identifies the backend in logs and StoreUnavailableError.
	Name() string
	// Insert stores a new active claim.
	Insert(ctx context.Context, c protocol.Claim) error
	// Active returns active claims created at or after notBefore.
	Active(ctx context.Context, notBefore time.Time) ([]protocol.Claim, error)
	// Release marks active claims of ownerID released. claimID may be
	// protocol.ReleaseAll.
	Release(ctx context.Context, ownerID, claimID string, at time.Time) (int, error)
	// Expire marks active claims created before notBefore released.
	Expire(ctx context.Context, notBefore, at time.Time) (int, error)
}

// SQLBackend stores claims in the SQLite claims table, scoped by project.
type SQLBackend struct {
	db      *sql.DB
	project string
}

// NewSQLBackend creates a SQLBackend for the given project namespace.
func NewSQLBackend(db *sql.DB, project string) *SQLBackend {
	return &SQLBackend{db: db, project: project}
}

// Name implements Backend.
func (b *SQLBackend) Name() string { return "sqlite" }

// Insert implements Backend.
func (b *SQLBackend) Insert(ctx context.Context, c protocol.Claim) error {
	files, err := filesToJSON(c.Files)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO claims (id, project, owner_id, files, description, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, b.project, c.OwnerID, files, c.Description, string(protocol.ClaimActive),
		c.CreatedAt.UTC().Format(protocol.TimeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert claim %s: %w", c.ID, err)
	}
	return nil
}

// Active implements Backend.
func (b *SQLBackend) Active(ctx context.Context, notBefore time.Time) ([]protocol.Claim, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, owner_id, files, description, status, created_at
		 FROM claims WHERE project = ? AND status = ? ORDER BY created_at, id`,
		b.project, string(protocol.ClaimActive),
	)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	var out []protocol.Claim
	for rows.Next() {
		var (
			c                 protocol.Claim
			files, status, at string
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &files, &c.Description, &status, &at); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		if err := json.Unmarshal([]byte(files), &c.Files); err != nil {
			return nil, fmt.Errorf("decode files of claim %s: %w", c.ID, err)
		}
		c.Status = protocol.ClaimStatus(status)
		if c.CreatedAt, err = time.Parse(protocol.TimeLayout, at); err != nil {
			return nil, fmt.Errorf("parse created_at of claim %s: %w", c.ID, err)
		}
		if c.CreatedAt.Before(notBefore) {
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return out, nil
}

// Release implements Backend.
func (b *SQLBackend) Release(ctx context.Context, ownerID, claimID string, at time.Time) (int, error) {
	query := `UPDATE claims SET status = ?, released_at = ? WHERE project = ? AND owner_id = ? AND status = ?`
	args := []any{
		string(protocol.ClaimReleased), at.UTC().Format(protocol.TimeLayout),
		b.project, ownerID, string(protocol.ClaimActive),
	}
	if claimID != protocol.ReleaseAll {
		query += ` AND id = ?`
		args = append(args, claimID)
	}
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("release claims of %s: %w", ownerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release claims of %s: rows affected: %w", ownerID, err)
	}
	return int(n), nil
}

// Expire implements Backend. TimeLayout is fixed-width UTC, so the string
// comparison orders correctly.
func (b *SQLBackend) Expire(ctx context.Context, notBefore, at time.Time) (int, error) {
	res, err := b.db.ExecContext(ctx,
		`UPDATE claims SET status = ?, released_at = ? WHERE project = ? AND status = ? AND created_at < ?`,
		string(protocol.ClaimReleased), at.UTC().Format(protocol.TimeLayout),
		b.project, string(protocol.ClaimActive), notBefore.UTC().Format(protocol.TimeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("expire claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire claims: rows affected: %w", err)
	}
	return int(n), nil
}

// filesToJSON converts a slice of paths to a JSON array string for storage.
func filesToJSON(files []string) (string, error) {
	if len(files) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("marshal files: %w", err)
	}
	return string(b), nil
}
