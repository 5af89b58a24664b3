// Package postgres implements repository.SessionRepository on PostgreSQL via
// github.com/lib/pq. It is the backend for deployments running more than one
// gate instance, where an embedded SQLite file cannot be shared.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Registers the "postgres" driver with database/sql.
	_ "github.com/lib/pq"

	"github.com/tinova-ai/tinova-web/internal/apperror"
	"github.com/tinova-ai/tinova-web/internal/repository"
)

var _ repository.SessionRepository = (*Store)(nil)

// Store keeps one JSONB document per browser key in gate_sessions.
type Store struct {
	db *sql.DB
}

// Open connects to databaseURL and ensures the schema exists.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}
	s, err := NewStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing pool. Tests hand in a sqlmock pool here.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres: database is required")
	}
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS gate_sessions (
	browser_key TEXT PRIMARY KEY,
	data BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("postgres: ensure gate_sessions schema: %w", err)
	}
	return nil
}

// Get returns the stored document for key, or apperror.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (*repository.SessionRecord, error) {
	const q = `SELECT data, updated_at FROM gate_sessions WHERE browser_key = $1`

	rec := repository.SessionRecord{Key: key}
	if err := s.db.QueryRowContext(ctx, q, key).Scan(&rec.Data, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("session", key)
		}
		return nil, fmt.Errorf("postgres: get session %s: %w", key, err)
	}
	return &rec, nil
}

// Put upserts the document for key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	const q = `
INSERT INTO gate_sessions (browser_key, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (browser_key) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	if _, err := s.db.ExecContext(ctx, q, key, data); err != nil {
		return fmt.Errorf("postgres: put session %s: %w", key, err)
	}
	return nil
}

// Delete removes the document for key; missing keys are fine.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM gate_sessions WHERE browser_key = $1`, key); err != nil {
		return fmt.Errorf("postgres: delete session %s: %w", key, err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
