// Package server is the composition root: it builds every dependency from
// config, wires handlers to routes, and runs the HTTP server.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → repository (sqlite or postgres) → service.SessionStore ─┐
//	  → access.AllowList ───────────────────────────────────────┤
//	  → auth.GitHubProvider / ExchangeClient / Verifier ────────┴→ service.Gate
//	  → service.Gate → handler.AuthHandler, DashboardHandler, StatusHandler
//
// Each layer only receives what it needs: the gate gets interfaces, handlers
// get the gate, nothing reaches back up.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tinova-ai/tinova-web/internal/access"
	"github.com/tinova-ai/tinova-web/internal/auth"
	"github.com/tinova-ai/tinova-web/internal/config"
	"github.com/tinova-ai/tinova-web/internal/handler"
	"github.com/tinova-ai/tinova-web/internal/middleware"
	"github.com/tinova-ai/tinova-web/internal/repository"
	"github.com/tinova-ai/tinova-web/internal/repository/postgres"
	sqliteRepo "github.com/tinova-ai/tinova-web/internal/repository/sqlite"
	"github.com/tinova-ai/tinova-web/internal/service"
	"github.com/tinova-ai/tinova-web/internal/status"
)

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the session repository and closes it on shutdown, after
// in-flight requests have finished.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	repo   repository.SessionRepository
}

// New builds the dependency graph for cfg. cfg must have passed Validate.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		repo:   repo,
	}

	if err := s.setupRoutes(); err != nil {
		repo.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler returns the root handler. Tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the session repository.
func (s *Server) Close() error {
	return s.repo.Close()
}

func openRepository(ctx context.Context, cfg config.Config) (repository.SessionRepository, error) {
	switch cfg.SessionBackend {
	case config.BackendPostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return store, nil
	default:
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return db, nil
	}
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                 → liveness probe
// GET    /static/*                → CSS and JS
// POST   /api/github-oauth        → code exchange (only when this binary holds the secret)
//
// Routes below run behind the browser-key middleware:
// GET    /                        → redirect to the dashboard
// GET    /dashboard               → the gated page; also receives the OAuth callback
// GET    /auth/github/login       → start the OAuth handshake (oauth strategy)
// POST   /auth/confirm            → sign in by username (confirm strategy)
// POST   /auth/logout             → sign out this browser
// GET    /api/session             → current View
// GET    /api/session/events      → SSE stream of session changes
// GET    /api/ssl-status          → certificate feed (authorized only, when STATUS_URL is set)
// POST   /api/ssl-check           → trigger a re-check (same)
//
// MIDDLEWARE ORDER MATTERS:
// RequestID first so the logger can print it, Recoverer innermost of the
// globals so a panic is still logged as a 500.
func (s *Server) setupRoutes() error {
	cfg := s.config

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	fileServer := http.FileServer(http.Dir(cfg.StaticDir))
	s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	// === Identity ===
	provider := auth.NewGitHubProvider(
		cfg.GitHubClientID,
		cfg.GitHubClientSecret,
		cfg.GitHubRedirectURL,
		auth.WithAPIURL(cfg.GitHubAPIURL),
	)

	if cfg.IntermediaryEnabled() {
		ih := handler.NewIntermediaryHandler(provider, cfg.SiteURL, s.logger)
		s.router.Post("/api/github-oauth", ih.HandleExchange)
		s.router.Options("/api/github-oauth", ih.HandlePreflight)
		s.logger.Info("intermediary endpoint enabled")
	}

	var (
		authURLs  service.AuthURLBuilder
		exchanger service.IdentityExchanger
		verifier  service.IdentityResolver
	)
	if cfg.IdentityStrategy == config.StrategyOAuth {
		ec, err := auth.NewExchangeClient(cfg.IntermediaryURL, nil, cfg.ExchangeTimeout, cfg.AllowInsecureIntermediary)
		if err != nil {
			return err
		}
		authURLs, exchanger = provider, ec
	}
	if cfg.VerifyIdentity || cfg.IdentityStrategy == config.StrategyConfirm {
		verifier = auth.NewVerifier(cfg.GitHubAPIURL, nil, cfg.VerifyTimeout)
	}

	allow := access.NewAllowList(cfg.AllowedGitHubUsers)
	if allow.UsingFallback() {
		s.logger.Warn("ALLOWED_GITHUB_USERS is empty, using the demo allow-list",
			slog.Any("usernames", allow.Usernames()),
		)
	}

	// === Sessions and the gate ===
	events := service.NewSessionEvents()
	sessions := service.NewSessionStore(s.repo, events, cfg.SessionTTL, s.logger)
	gate := service.NewGate(allow, sessions, authURLs, exchanger, verifier, service.GateOptions{
		Strategy:       cfg.IdentityStrategy,
		VerifyIdentity: cfg.VerifyIdentity,
		AccessContact:  cfg.AccessContact,
	}, s.logger)

	tokens, err := auth.NewTokenService(cfg.SessionSecret)
	if err != nil {
		return err
	}

	authHandler := handler.NewAuthHandler(gate, events, cfg.DashboardPath, cfg.CookieSecure, s.logger)
	dashboard, err := handler.NewDashboardHandler(cfg.TemplateDir, gate, allow, authHandler.HandleCallback, handler.DashboardOptions{
		Strategy:      cfg.IdentityStrategy,
		StatusEnabled: cfg.StatusURL != "",
		Secure:        cfg.CookieSecure,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("creating dashboard handler: %w", err)
	}

	s.router.Group(func(r chi.Router) {
		r.Use(auth.BrowserKey(tokens, cfg.CookieSecure, s.logger))

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, cfg.DashboardPath, http.StatusFound)
		})
		r.Get(cfg.DashboardPath, dashboard.HandleDashboard)

		r.Get("/auth/github/login", authHandler.HandleLogin)
		r.Post("/auth/confirm", authHandler.HandleConfirm)
		r.Post("/auth/logout", authHandler.HandleLogout)

		r.Get("/api/session", authHandler.HandleSession)
		r.Get("/api/session/events", authHandler.HandleEvents)

		if cfg.StatusURL != "" {
			sh := handler.NewStatusHandler(status.NewClient(cfg.StatusURL, nil), gate, s.logger)
			r.Get("/api/ssl-status", sh.HandleStatus)
			r.Post("/api/ssl-check", sh.HandleCheck)
		}
	})

	return nil
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the session repository
//
// WriteTimeout covers the slowest normal request: a callback that exchanges
// the code and then verifies the login. The event stream lifts it per request.
func (s *Server) Start() error {
	defer s.repo.Close()

	// Cancelled at shutdown so long-lived event streams return and Shutdown
	// is not left waiting on them.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.SiteURL+s.config.DashboardPath),
			slog.String("strategy", s.config.IdentityStrategy),
			slog.String("sessionBackend", s.config.SessionBackend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		cancelBase()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
