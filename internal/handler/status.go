package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinova-ai/tinova-web/internal/auth"
	"github.com/tinova-ai/tinova-web/internal/service"
	"github.com/tinova-ai/tinova-web/internal/status"
)

// StatusFeed is the certificate feed. *status.Client implements it.
type StatusFeed interface {
	Fetch(ctx context.Context) ([]status.Certificate, error)
	TriggerCheck(ctx context.Context) (json.RawMessage, error)
}

// StatusHandler proxies the SSL status feed for signed-in, allowed viewers.
type StatusHandler struct {
	feed   StatusFeed
	gate   *service.Gate
	logger *slog.Logger
}

func NewStatusHandler(feed StatusFeed, gate *service.Gate, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{feed: feed, gate: gate, logger: logger}
}

type statusFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type alertThresholds struct {
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
}

type monitoring struct {
	Enabled         bool            `json:"enabled"`
	CheckInterval   string          `json:"checkInterval"`
	AlertThresholds alertThresholds `json:"alertThresholds"`
}

type statusResponse struct {
	Success     bool                 `json:"success"`
	Data        []status.Certificate `json:"data"`
	LastUpdated time.Time            `json:"lastUpdated"`
	Monitoring  monitoring           `json:"monitoring"`
}

type checkResponse struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data"`
	TriggeredAt time.Time       `json:"triggeredAt"`
}

// HandleStatus returns every certificate with its health level.
//
// HTTP: GET /api/ssl-status
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	certs, err := h.feed.Fetch(r.Context())
	if err != nil {
		h.logger.Error("ssl status fetch failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, statusFailure{Error: "Failed to fetch SSL certificate status"})
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Success:     true,
		Data:        certs,
		LastUpdated: time.Now().UTC(),
		Monitoring: monitoring{
			Enabled:       true,
			CheckInterval: "12 hours",
			AlertThresholds: alertThresholds{
				Warning:  status.WarningDays,
				Critical: status.CriticalDays,
			},
		},
	})
}

// HandleCheck asks the monitoring host for an immediate re-check.
//
// HTTP: POST /api/ssl-check
func (h *StatusHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	data, err := h.feed.TriggerCheck(r.Context())
	if err != nil {
		h.logger.Error("ssl check trigger failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, statusFailure{Error: "Failed to trigger SSL certificate check"})
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{
		Success:     true,
		Message:     "SSL check triggered successfully",
		Data:        data,
		TriggeredAt: time.Now().UTC(),
	})
}

// authorized gates the feed on the same decision as the dashboard itself.
func (h *StatusHandler) authorized(w http.ResponseWriter, r *http.Request) bool {
	key, ok := auth.BrowserKeyFromContext(r.Context())
	if ok && h.gate.Current(r.Context(), key).State == service.StateAuthorized {
		return true
	}
	writeJSON(w, http.StatusForbidden, statusFailure{Error: "Sign in with an allowed GitHub account to view status"})
	return false
}
