// Package repository declares the storage interfaces the service layer
// depends on. Implementations live in subpackages (sqlite, postgres); the
// service never imports them directly.
package repository

import (
	"context"
	"time"
)

// SessionRecord is one stored session document, exactly as persisted.
//
// Data is kept as raw JSON bytes on purpose: decoding happens in the
// service layer, which is where an unreadable document is detected and
// discarded. The repository only moves bytes.
type SessionRecord struct {
	Key       string
	Data      []byte
	UpdatedAt time.Time
}

// SessionRepository stores one session document per browser key.
//
// Put is an upsert: the last writer wins. Get returns an error wrapping
// apperror.ErrNotFound when the key has no document. Delete is idempotent.
type SessionRepository interface {
	Get(ctx context.Context, key string) (*SessionRecord, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
