// Package handler contains the HTTP handlers of the dashboard gate.
//
// Handlers are glue: they parse the request, call the gate or a client, and
// write the response. They never make access decisions themselves; every
// "may this browser see it" question is answered by service.Gate.
package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/tinova-ai/tinova-web/internal/access"
	"github.com/tinova-ai/tinova-web/internal/service"
)

// AdminSummary is the configuration overview shown to authorized viewers.
type AdminSummary struct {
	ConfiguredUsers int
	UsingFallback   bool
}

// DashboardOptions are the page-level settings.
type DashboardOptions struct {
	Strategy      string // identity strategy, picks the sign-in control
	StatusEnabled bool   // whether the SSL feed is wired
	Secure        bool   // Secure flag for the flash cookie
}

// DashboardHandler renders the gated dashboard page.
//
// Templates are parsed once at startup: base.html holds the page skeleton
// with a {{template "content" .}} slot, dashboard.html fills it with one
// block per gate state.
type DashboardHandler struct {
	templates *template.Template
	gate      *service.Gate
	allow     *access.AllowList
	callback  http.HandlerFunc
	opts      DashboardOptions
	logger    *slog.Logger
}

// NewDashboardHandler parses the templates in templateDir. callback handles
// requests that carry OAuth callback parameters.
func NewDashboardHandler(
	templateDir string,
	gate *service.Gate,
	allow *access.AllowList,
	callback http.HandlerFunc,
	opts DashboardOptions,
	logger *slog.Logger,
) (*DashboardHandler, error) {
	tmpl, err := template.ParseFiles(
		filepath.Join(templateDir, "base.html"),
		filepath.Join(templateDir, "dashboard.html"),
	)
	if err != nil {
		return nil, err
	}

	return &DashboardHandler{
		templates: tmpl,
		gate:      gate,
		allow:     allow,
		callback:  callback,
		opts:      opts,
		logger:    logger,
	}, nil
}

type dashboardPage struct {
	Title         string
	View          service.View
	Strategy      string
	StatusEnabled bool
	Admin         *AdminSummary
}

// HandleDashboard serves the dashboard.
//
// HTTP: GET /dashboard
//
// A request carrying code, state or error is GitHub coming back; it goes to
// the callback, which redirects here again without them.
func (h *DashboardHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Has("code") || q.Has("state") || q.Has("error") {
		h.callback(w, r)
		return
	}

	key, ok := browserKey(w, r)
	if !ok {
		return
	}

	view := h.gate.Current(r.Context(), key)
	if flash, ok := takeFlash(w, r, h.opts.Secure); ok && view.State == service.StateUnauthenticated {
		view = flash
	}

	page := dashboardPage{
		Title:         "Service Dashboard",
		View:          view,
		Strategy:      h.opts.Strategy,
		StatusEnabled: h.opts.StatusEnabled,
	}
	if view.State == service.StateAuthorized {
		page.Admin = &AdminSummary{
			ConfiguredUsers: h.allow.Len(),
			UsingFallback:   h.allow.UsingFallback(),
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	if err := h.templates.ExecuteTemplate(w, "base", page); err != nil {
		h.logger.Error("failed to render template",
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
