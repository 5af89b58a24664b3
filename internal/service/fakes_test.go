package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tinova-ai/tinova-web/internal/apperror"
	"github.com/tinova-ai/tinova-web/internal/model"
	"github.com/tinova-ai/tinova-web/internal/repository"
)

// fakeSessionRepo is an in-memory repository.SessionRepository.
type fakeSessionRepo struct {
	mu      sync.Mutex
	docs    map[string][]byte
	puts    int
	deletes int
	getErr  error
	putErr  error
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{docs: make(map[string][]byte)}
}

func (f *fakeSessionRepo) Get(_ context.Context, key string) (*repository.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.docs[key]
	if !ok {
		return nil, apperror.NotFound("session", key)
	}
	return &repository.SessionRecord{Key: key, Data: data, UpdatedAt: time.Now()}, nil
}

func (f *fakeSessionRepo) Put(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.puts++
	f.docs[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeSessionRepo) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.docs, key)
	return nil
}

func (f *fakeSessionRepo) Close() error { return nil }

func (f *fakeSessionRepo) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[key]
	return ok
}

func (f *fakeSessionRepo) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

// fakeExchanger returns a fixed identity or error and counts calls.
// If release is non-nil, Exchange blocks until it is closed.
type fakeExchanger struct {
	mu       sync.Mutex
	identity *model.Identity
	err      error
	calls    int
	started  chan struct{}
	release  chan struct{}
}

func (f *fakeExchanger) Exchange(ctx context.Context, code, state string) (*model.Identity, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.ProviderUnavailable(err)
	}
	if f.err != nil {
		return nil, f.err
	}
	id := *f.identity
	return &id, nil
}

func (f *fakeExchanger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeResolver answers from a map of known profiles; unknown logins are not found.
type fakeResolver struct {
	profiles map[string]model.Identity
	err      error
	calls    int
}

func (f *fakeResolver) Resolve(_ context.Context, username string) (*model.Identity, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	for login, id := range f.profiles {
		if strings.EqualFold(login, username) {
			found := id
			return &found, nil
		}
	}
	return nil, nil
}

type fakeAuthURLs struct{}

func (fakeAuthURLs) AuthURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + state
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ghIdentity(id int64, login string) model.Identity {
	return model.NewGitHubIdentity(id, login, "", login+"@example.com", "https://avatars.example.com/"+login)
}
