package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tinova-ai/tinova-web/internal/apperror"
	"github.com/tinova-ai/tinova-web/internal/repository"
)

// compile-time check that *DB implements repository.SessionRepository
var _ repository.SessionRepository = (*DB)(nil)

// Get returns the stored document for key.
// Returns apperror.ErrNotFound if nothing is stored.
func (db *DB) Get(ctx context.Context, key string) (*repository.SessionRecord, error) {
	rec := repository.SessionRecord{Key: key}

	err := db.conn.QueryRowContext(ctx,
		`SELECT data, updated_at FROM sessions WHERE browser_key = ?`, key,
	).Scan(&rec.Data, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("session", key)
		}
		return nil, fmt.Errorf("sqlite: getting session %s: %w", key, err)
	}

	return &rec, nil
}

// Put stores data under key, replacing whatever was there.
//
// INSERT ... ON CONFLICT DO UPDATE is SQLite's upsert. Unlike INSERT OR
// REPLACE it updates the row in place instead of deleting and re-inserting.
func (db *DB) Put(ctx context.Context, key string, data []byte) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (browser_key, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(browser_key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving session %s: %w", key, err)
	}
	return nil
}

// Delete removes the document for key. Deleting a missing key is not an error.
func (db *DB) Delete(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE browser_key = ?`, key); err != nil {
		return fmt.Errorf("sqlite: deleting session %s: %w", key, err)
	}
	return nil
}
