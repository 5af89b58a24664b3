package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tinova-ai/tinova-web/internal/auth"
)

// CodeExchanger trades an authorization code for a GitHub profile.
// *auth.GitHubProvider implements it.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

// IntermediaryHandler plays the trusted-intermediary role: the only code in
// the system that holds the GitHub client secret.
//
// HTTP: POST /api/github-oauth
// REQUEST BODY:  {"code": "...", "state": "..."}
// RESPONSE 200:  {"id":..., "login":..., "name":..., "email":..., "avatar_url":...}
// RESPONSE 4xx/5xx: {"error": "..."}
//
// It is a plain JSON API with a CORS allowance for the site origin, so the
// same endpoint can serve a static front-end hosted elsewhere.
type IntermediaryHandler struct {
	exchanger     CodeExchanger
	allowedOrigin string
	logger        *slog.Logger
}

// NewIntermediaryHandler creates an IntermediaryHandler. allowedOrigin is the
// site URL; requests from any other Origin get no CORS headers.
func NewIntermediaryHandler(exchanger CodeExchanger, allowedOrigin string, logger *slog.Logger) *IntermediaryHandler {
	return &IntermediaryHandler{
		exchanger:     exchanger,
		allowedOrigin: strings.TrimRight(allowedOrigin, "/"),
		logger:        logger,
	}
}

// HandleExchange exchanges the code and answers with the profile.
func (h *IntermediaryHandler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	h.cors(w, r)

	var req auth.ExchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, auth.ExchangeError{Error: "Invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeJSON(w, http.StatusBadRequest, auth.ExchangeError{Error: "Missing authorization code"})
		return
	}

	user, err := h.exchanger.Exchange(r.Context(), req.Code)
	if err != nil {
		// GitHub refused the code: pass its description back, it is meant for
		// the user ("The code passed is incorrect or expired.").
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			h.logger.Warn("intermediary: GitHub rejected code",
				slog.String("errorCode", re.ErrorCode),
				slog.String("description", re.ErrorDescription),
			)
			writeJSON(w, http.StatusBadRequest, auth.ExchangeError{Error: rejection(re)})
			return
		}

		h.logger.Error("intermediary: exchange failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, auth.ExchangeError{Error: "Internal server error"})
		return
	}

	h.logger.Info("intermediary: code exchanged", slog.String("login", user.Login))
	writeJSON(w, http.StatusOK, user)
}

// HandlePreflight answers CORS preflight requests.
func (h *IntermediaryHandler) HandlePreflight(w http.ResponseWriter, r *http.Request) {
	h.cors(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *IntermediaryHandler) cors(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || origin != h.allowedOrigin {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Add("Vary", "Origin")
}

func rejection(re *oauth2.RetrieveError) string {
	switch {
	case re.ErrorDescription != "":
		return re.ErrorDescription
	case re.ErrorCode != "":
		return re.ErrorCode
	default:
		return "OAuth exchange failed"
	}
}
