// Package units keeps the registry of known units in PostgreSQL: each unit's
// latest content and indexing status. The registry is the source replayed
// when an index has to be rebuilt from scratch.
package units

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const (
	StatusPending = "PENDING"
	StatusIndexed = "INDEXED"
	StatusFailed  = "FAILED"
)

const schema = `
CREATE TABLE IF NOT EXISTS units (
	path       TEXT PRIMARY KEY,
	content    TEXT NULL,
	status     TEXT NOT NULL DEFAULT 'PENDING',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Unit is one registry row. A nil Content marks a deleted unit.
type Unit struct {
	Path      string
	Content   *string
	Status    string
	UpdatedAt time.Time
}

type Registry struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{
		db:     db,
		logger: slog.Default().With("component", "unit-registry"),
	}
}

// EnsureSchema creates the units table if it does not exist.
func (r *Registry) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating units table: %w", err)
	}
	return nil
}

// Save records the latest content of path and marks it pending.
func (r *Registry) Save(ctx context.Context, path string, content *string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO units (path, content, status, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (path) DO UPDATE
		SET content = EXCLUDED.content, status = EXCLUDED.status, updated_at = NOW()`,
		path, nullString(content), StatusPending,
	)
	if err != nil {
		return fmt.Errorf("saving unit %s: %w", path, err)
	}
	return nil
}

// SetStatus updates the indexing status of path. Failures are logged, not
// returned: status is informational and must not fail indexing.
func (r *Registry) SetStatus(ctx context.Context, path, status string) {
	_, err := r.db.ExecContext(ctx,
		`UPDATE units SET status = $1, updated_at = NOW() WHERE path = $2`,
		status, path,
	)
	if err != nil {
		r.logger.Error("failed to update unit status",
			"path", path,
			"status", status,
			"error", err,
		)
	}
}

// ForEach calls fn for every unit in path order.
func (r *Registry) ForEach(ctx context.Context, fn func(path string, content *string) error) error {
	rows, err := r.db.QueryContext(ctx, `SELECT path, content FROM units ORDER BY path`)
	if err != nil {
		return fmt.Errorf("listing units: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			path    string
			content sql.NullString
		)
		if err := rows.Scan(&path, &content); err != nil {
			return fmt.Errorf("scanning unit: %w", err)
		}
		var c *string
		if content.Valid {
			c = &content.String
		}
		if err := fn(path, c); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating units: %w", err)
	}
	return nil
}

// Get returns the registry row for path, or sql.ErrNoRows.
func (r *Registry) Get(ctx context.Context, path string) (*Unit, error) {
	var (
		u       Unit
		content sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT path, content, status, updated_at FROM units WHERE path = $1`, path,
	).Scan(&u.Path, &content, &u.Status, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if content.Valid {
		u.Content = &content.String
	}
	return &u, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
