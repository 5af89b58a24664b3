package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinova-ai/tinova-web/internal/access"
	"github.com/tinova-ai/tinova-web/internal/auth"
	"github.com/tinova-ai/tinova-web/internal/handler"
	"github.com/tinova-ai/tinova-web/internal/model"
	sqliteRepo "github.com/tinova-ai/tinova-web/internal/repository/sqlite"
	"github.com/tinova-ai/tinova-web/internal/service"
)

const (
	testKey      = "browser-1"
	templateDir  = "../../web/templates"
	accessAdmins = "ops@tinova.ai"
)

type stubExchanger struct {
	identity model.Identity
	calls    int
}

func (s *stubExchanger) Exchange(ctx context.Context, code, state string) (*model.Identity, error) {
	s.calls++
	id := s.identity
	return &id, nil
}

type stubResolver map[string]model.Identity

func (s stubResolver) Resolve(ctx context.Context, username string) (*model.Identity, error) {
	for login, id := range s {
		if strings.EqualFold(login, username) {
			found := id
			return &found, nil
		}
	}
	return nil, nil
}

type stubAuthURLs struct{}

func (stubAuthURLs) AuthURL(state string) string {
	return "https://github.com/login/oauth/authorize?client_id=test&state=" + state
}

type fixture struct {
	gate      *service.Gate
	events    *service.SessionEvents
	allow     *access.AllowList
	exchanger *stubExchanger
	auth      *handler.AuthHandler
	dashboard *handler.DashboardHandler
	mux       *http.ServeMux
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture wires a real gate over an in-memory SQLite store. The exchanger
// returns login; the allow-list is {"alice"}.
func newFixture(t *testing.T, strategy, login string) *fixture {
	t.Helper()
	logger := testLogger()

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	events := service.NewSessionEvents()
	store := service.NewSessionStore(db, events, time.Hour, logger)
	allow := access.NewAllowList([]string{"alice"})
	ex := &stubExchanger{identity: model.NewGitHubIdentity(7, login, "", "", "https://avatars.example.com/u/7")}
	res := stubResolver{
		"alice": model.NewGitHubIdentity(7, "alice", "Alice", "", ""),
		"bob":   model.NewGitHubIdentity(8, "bob", "", "", ""),
	}

	gate := service.NewGate(allow, store, stubAuthURLs{}, ex, res, service.GateOptions{
		Strategy:       strategy,
		VerifyIdentity: false,
		AccessContact:  accessAdmins,
	}, logger)

	ah := handler.NewAuthHandler(gate, events, "/dashboard", false, logger)
	dh, err := handler.NewDashboardHandler(templateDir, gate, allow, ah.HandleCallback, handler.DashboardOptions{
		Strategy: strategy,
	}, logger)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /dashboard", dh.HandleDashboard)
	mux.HandleFunc("GET /auth/github/login", ah.HandleLogin)
	mux.HandleFunc("POST /auth/confirm", ah.HandleConfirm)
	mux.HandleFunc("POST /auth/logout", ah.HandleLogout)
	mux.HandleFunc("GET /api/session", ah.HandleSession)
	mux.HandleFunc("GET /api/session/events", ah.HandleEvents)

	return &fixture{
		gate:      gate,
		events:    events,
		allow:     allow,
		exchanger: ex,
		auth:      ah,
		dashboard: dh,
		mux:       mux,
	}
}

// do serves req as browser testKey and returns the recorder.
func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req.WithContext(auth.WithBrowserKey(req.Context(), testKey)))
	return rr
}

func cookieNamed(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
