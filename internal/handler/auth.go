package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tinova-ai/tinova-web/internal/apperror"
	"github.com/tinova-ai/tinova-web/internal/auth"
	"github.com/tinova-ai/tinova-web/internal/service"
)

const (
	// StateCookie holds the OAuth nonce between redirect-out and redirect-back.
	StateCookie = "oauth_state"
	stateMaxAge = 10 * time.Minute

	// FlashCookie carries a one-shot View across the post-callback redirect,
	// so the clean dashboard URL can still show why sign-in failed.
	FlashCookie = "gate_flash"
	flashMaxAge = time.Minute

	sseHeartbeat = 25 * time.Second
)

// AuthHandler exposes the gate over HTTP.
//
// HANDLER RESPONSIBILITIES:
//   - HandleLogin    → store a nonce cookie, redirect the browser to GitHub
//   - HandleCallback → consume the nonce, complete sign-in, redirect to the clean URL
//   - HandleConfirm  → sign in by confirmed username (confirm strategy)
//   - HandleLogout   → clear this browser's session in every tab
//   - HandleSession  → the current View as JSON
//   - HandleEvents   → Server-Sent Events stream of session changes
//
// Every route needs the browser key set by auth.BrowserKey.
type AuthHandler struct {
	gate          *service.Gate
	events        *service.SessionEvents
	dashboardPath string
	secure        bool
	logger        *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(
	gate *service.Gate,
	events *service.SessionEvents,
	dashboardPath string,
	secure bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		gate:          gate,
		events:        events,
		dashboardPath: dashboardPath,
		secure:        secure,
		logger:        logger,
	}
}

// HandleLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// The nonce cookie is HttpOnly and SameSite=Lax: GitHub's redirect back is a
// top-level navigation, so the browser sends it along; a cross-site POST
// would not.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	key, ok := browserKey(w, r)
	if !ok {
		return
	}

	redirectURL, nonce, err := h.gate.BeginSignIn(r.Context(), key)
	if err != nil {
		h.logger.Info("sign-in not started",
			slog.String("browserKey", key),
			slog.String("error", err.Error()),
		)
		h.redirectWithView(w, r, failureView(err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    nonce,
		Path:     "/",
		MaxAge:   int(stateMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, redirectURL, http.StatusTemporaryRedirect)
}

// HandleCallback completes the OAuth flow.
//
// HTTP: GET /dashboard?code=xxx&state=yyy (or ?error=access_denied)
//
// FLOW:
//  1. Read and immediately clear the nonce cookie (single use)
//  2. Hand code, state and the stored nonce to the gate
//  3. Stash the resulting View in a flash cookie
//  4. 303 to the bare dashboard path so code and state leave the address bar
//     and the browser history
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	key, ok := browserKey(w, r)
	if !ok {
		return
	}

	var stored string
	if c, err := r.Cookie(StateCookie); err == nil {
		stored = c.Value
	}
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	q := r.URL.Query()
	view := h.gate.Complete(r.Context(), key, service.Callback{
		Code:          q.Get("code"),
		State:         q.Get("state"),
		StoredState:   stored,
		ProviderError: q.Get("error"),
	})

	h.logger.Info("oauth callback handled",
		slog.String("browserKey", key),
		slog.String("state", string(view.State)),
		slog.String("reason", view.Reason),
	)
	h.redirectWithView(w, r, view)
}

type confirmRequest struct {
	Username string `json:"username"`
}

// HandleConfirm signs in under the confirm strategy.
//
// HTTP: POST /auth/confirm
// REQUEST BODY: {"username": "octocat"}; an empty username cancels.
//
// The answer is always 200 with a View: the outcome is a dashboard state,
// not a transport error.
func (h *AuthHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	key, ok := browserKey(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	view := h.gate.ConfirmIdentity(r.Context(), key, auth.Answer(strings.TrimSpace(req.Username)))
	writeJSON(w, http.StatusOK, view)
}

// HandleLogout clears this browser's session.
//
// HTTP: POST /auth/logout
//
// The browser key cookie stays: it identifies the browser, not the user.
// Other open tabs learn about the sign-out through HandleEvents.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	key, ok := browserKey(w, r)
	if !ok {
		return
	}

	if err := h.gate.SignOut(r.Context(), key); err != nil {
		h.logger.Error("sign-out failed",
			slog.String("browserKey", key),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, service.View{State: service.StateUnauthenticated})
}

// HandleSession returns the current View.
//
// HTTP: GET /api/session
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	key, ok := browserKey(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.gate.Current(r.Context(), key))
}

// HandleEvents streams session changes for this browser as Server-Sent Events.
//
// HTTP: GET /api/session/events
//
// Each change is one "session" event carrying {"kind","at"}; the page then
// re-fetches /api/session. A comment line every sseHeartbeat keeps proxies
// from closing an idle stream.
func (h *AuthHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	key, ok := browserKey(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// The server's WriteTimeout would cut the stream; this connection lives
	// until the client goes away.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("sse: could not clear write deadline", slog.String("error", err.Error()))
	}

	events, cancel := h.events.Subscribe(key)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.logger.Error("sse: streaming unsupported", slog.String("error", err.Error()))
		return
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("sse: encoding event", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// redirectWithView stores view in the flash cookie and sends the browser to
// the clean dashboard URL.
func (h *AuthHandler) redirectWithView(w http.ResponseWriter, r *http.Request, view service.View) {
	if view.State != service.StateAuthorized {
		setFlash(w, view, h.secure)
	}
	http.Redirect(w, r, h.dashboardPath, http.StatusSeeOther)
}

// setFlash writes view into the one-shot flash cookie.
func setFlash(w http.ResponseWriter, view service.View, secure bool) {
	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookie,
		Value:    base64.RawURLEncoding.EncodeToString(raw),
		Path:     "/",
		MaxAge:   int(flashMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeFlash reads and clears the flash cookie.
//
// The cookie is unsigned, so it can only ever downgrade what the page shows:
// an Authorized flash is ignored, and a flash never overrides a stored
// session.
func takeFlash(w http.ResponseWriter, r *http.Request, secure bool) (service.View, bool) {
	c, err := r.Cookie(FlashCookie)
	if err != nil {
		return service.View{}, false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})

	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return service.View{}, false
	}
	var view service.View
	if err := json.Unmarshal(raw, &view); err != nil {
		return service.View{}, false
	}
	switch view.State {
	case service.StateUnauthenticated, service.StateDenied:
		return view, true
	default:
		return service.View{}, false
	}
}

// failureView turns an error from BeginSignIn into a View.
func failureView(err error) service.View {
	view := service.View{
		State:   service.StateUnauthenticated,
		Message: "Something went wrong. Please try again.",
		Reason:  service.ReasonInternal,
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		view.Message = appErr.Message
	}
	switch {
	case errors.Is(err, apperror.ErrConflict):
		view.Reason = service.ReasonInProgress
	case errors.Is(err, apperror.ErrForbidden):
		view.Reason = service.ReasonInvalidInput
	}
	return view
}

// browserKey fetches the key set by auth.BrowserKey, answering 500 when the
// middleware is missing from the chain.
func browserKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, ok := auth.BrowserKeyFromContext(r.Context())
	if !ok {
		writeError(w, fmt.Errorf("handler: browser key middleware not installed"))
		return "", false
	}
	return key, true
}
