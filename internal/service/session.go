// Package service contains the business logic of the dashboard gate.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, sets cookies, writes responses
//	Service (Business layer) → the gate state machine, session rules
//	Repository (Data layer)  → reads/writes session documents
//
// The service never touches HTTP and never imports a concrete repository:
// SessionStore takes a repository.SessionRepository, so SQLite, Postgres or a
// test fake all plug in the same way.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinova-ai/tinova-web/internal/apperror"
	"github.com/tinova-ai/tinova-web/internal/model"
	"github.com/tinova-ai/tinova-web/internal/repository"
)

// SessionStore persists one Session per browser key.
//
// SELF-HEALING READS:
// A stored document that cannot be decoded (truncated write, schema drift,
// hand-edited row) is not an error for the caller. Load logs it, deletes it,
// and reports "no session", which puts the browser back to signed-out.
// Expired sessions are handled the same way.
type SessionStore struct {
	repo   repository.SessionRepository
	events *SessionEvents
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewSessionStore creates a SessionStore. ttl <= 0 disables expiry.
func NewSessionStore(repo repository.SessionRepository, events *SessionEvents, ttl time.Duration, logger *slog.Logger) *SessionStore {
	return &SessionStore{
		repo:   repo,
		events: events,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// Load returns the session stored for key, or nil if there is none, it is
// corrupt, or it has expired. Only storage failures are returned as errors.
func (s *SessionStore) Load(ctx context.Context, key string) (*model.Session, error) {
	rec, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("service/session: loading %s: %w", key, err)
	}

	sess, err := decodeSession(rec.Data)
	if err != nil {
		s.logger.Warn("discarding unreadable session",
			slog.String("browserKey", key),
			slog.String("error", err.Error()),
		)
		s.discard(ctx, key)
		return nil, nil
	}

	if sess.Expired(s.now(), s.ttl) {
		s.logger.Info("session expired",
			slog.String("browserKey", key),
			slog.String("login", sess.Identity.Username),
			slog.Time("createdAt", sess.CreatedAt),
		)
		s.discard(ctx, key)
		return nil, nil
	}

	return sess, nil
}

// Save persists sess under key, replacing any previous session, and notifies
// subscribers of key.
func (s *SessionStore) Save(ctx context.Context, key string, sess *model.Session) error {
	if sess == nil || sess.Identity.Username == "" {
		return apperror.ValidationFailed("session", "session must carry an identity")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("service/session: encoding session: %w", err)
	}
	if err := s.repo.Put(ctx, key, data); err != nil {
		return fmt.Errorf("service/session: saving %s: %w", key, err)
	}

	s.events.Publish(SessionEvent{Key: key, Kind: SessionSaved, At: s.now()})
	return nil
}

// Clear removes the session for key and notifies subscribers of key.
func (s *SessionStore) Clear(ctx context.Context, key string) error {
	if err := s.repo.Delete(ctx, key); err != nil {
		return fmt.Errorf("service/session: clearing %s: %w", key, err)
	}

	s.events.Publish(SessionEvent{Key: key, Kind: SessionCleared, At: s.now()})
	return nil
}

// Settled tells subscribers of key that a sign-in attempt is over.
func (s *SessionStore) Settled(key string) {
	s.events.Publish(SessionEvent{Key: key, Kind: SessionSettled, At: s.now()})
}

func (s *SessionStore) discard(ctx context.Context, key string) {
	if err := s.repo.Delete(ctx, key); err != nil {
		s.logger.Error("failed to discard session",
			slog.String("browserKey", key),
			slog.String("error", err.Error()),
		)
	}
}

func decodeSession(data []byte) (*model.Session, error) {
	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, apperror.CorruptSession(err)
	}
	if sess.Identity.Username == "" || sess.CreatedAt.IsZero() {
		return nil, apperror.CorruptSession(errors.New("missing identity or creation time"))
	}
	return &sess, nil
}
