package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tinova-ai/tinova-web/internal/access"
	"github.com/tinova-ai/tinova-web/internal/apperror"
	"github.com/tinova-ai/tinova-web/internal/auth"
	"github.com/tinova-ai/tinova-web/internal/config"
	"github.com/tinova-ai/tinova-web/internal/model"
)

// State is what the dashboard shows.
type State string

const (
	StateLoading         State = "loading"
	StateUnauthenticated State = "unauthenticated"
	StateDenied          State = "denied"
	StateAuthorized      State = "authorized"
)

// Reason codes let a client react to a failure without parsing Message.
const (
	ReasonForgery             = "forgery_detected"
	ReasonIdentityNotFound    = "identity_not_found"
	ReasonProviderUnavailable = "provider_unavailable"
	ReasonAccessDenied        = "access_denied"
	ReasonCancelled           = "cancelled"
	ReasonInvalidInput        = "invalid_input"
	ReasonInProgress          = "in_progress"
	ReasonInternal            = "internal_error"
)

// View is the outcome of one gate operation: the state to render, the
// identity involved (if any), and a human-readable message for failures.
type View struct {
	State    State           `json:"state"`
	Identity *model.Identity `json:"identity,omitempty"`
	Message  string          `json:"message,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

// Callback is what the browser brought back from GitHub, plus the nonce the
// gate stored before redirecting out.
type Callback struct {
	Code          string
	State         string
	StoredState   string
	ProviderError string // GitHub's ?error=..., e.g. access_denied
}

// IdentityExchanger turns an authorization code into an identity via the
// trusted intermediary. *auth.ExchangeClient implements it.
type IdentityExchanger interface {
	Exchange(ctx context.Context, code, state string) (*model.Identity, error)
}

// IdentityResolver looks a username up on GitHub. (nil, nil) means not found.
// *auth.Verifier implements it.
type IdentityResolver interface {
	Resolve(ctx context.Context, username string) (*model.Identity, error)
}

// AuthURLBuilder builds the provider's authorize URL. *auth.GitHubProvider
// implements it.
type AuthURLBuilder interface {
	AuthURL(state string) string
}

// GateOptions are the deployment choices the gate needs.
type GateOptions struct {
	Strategy       string // config.StrategyOAuth or config.StrategyConfirm
	VerifyIdentity bool   // run the public lookup after the code exchange
	AccessContact  string // who denied users should ask for access
}

// Gate is the dashboard's state machine:
//
//	Loading ──(no session, no callback)──────────────▶ Unauthenticated
//	Loading ──(callback → identity, allowed)──────────▶ Authorized
//	Loading ──(callback → identity, not allowed)──────▶ Denied
//	Unauthenticated ──(sign-in)───────────────────────▶ Loading
//	Denied / Authorized ──(sign-out)──────────────────▶ Unauthenticated
//
// Every failure lands in Unauthenticated with a message. The gate never
// grants access on an error path, and it only writes a session after the
// allow-list said yes.
//
// SIGN-IN IS NOT REENTRANT:
// Completions for the same browser key are coalesced with singleflight: a
// second callback arriving while the first is still exchanging waits for and
// shares the first result instead of running a second exchange. Starting a
// new redirect while a completion is in flight is rejected.
type Gate struct {
	decider   access.Decider
	sessions  *SessionStore
	authURLs  AuthURLBuilder
	exchanger IdentityExchanger
	verifier  IdentityResolver
	opts      GateOptions
	logger    *slog.Logger

	flights  singleflight.Group
	mu       sync.Mutex
	inFlight map[string]int
}

// NewGate wires the gate. authURLs and exchanger may be nil under the
// confirm strategy; verifier may be nil when VerifyIdentity is off and the
// strategy is oauth.
func NewGate(
	decider access.Decider,
	sessions *SessionStore,
	authURLs AuthURLBuilder,
	exchanger IdentityExchanger,
	verifier IdentityResolver,
	opts GateOptions,
	logger *slog.Logger,
) *Gate {
	if opts.AccessContact == "" {
		opts.AccessContact = "an administrator"
	}
	return &Gate{
		decider:   decider,
		sessions:  sessions,
		authURLs:  authURLs,
		exchanger: exchanger,
		verifier:  verifier,
		opts:      opts,
		logger:    logger,
		inFlight:  make(map[string]int),
	}
}

// Strategy returns the configured identity strategy.
func (g *Gate) Strategy() string { return g.opts.Strategy }

// Current resolves the state to show for a page load.
//
// A stored session is re-checked against the allow-list on every load: the
// list may have changed since the session was written, and this is the one
// place that decision is made.
func (g *Gate) Current(ctx context.Context, key string) View {
	if g.busy(key) {
		return View{State: StateLoading, Message: "Sign-in in progress…", Reason: ReasonInProgress}
	}

	sess, err := g.sessions.Load(ctx, key)
	if err != nil {
		g.logger.Error("gate: loading session failed",
			slog.String("browserKey", key),
			slog.String("error", err.Error()),
		)
		return g.failure(err)
	}
	if sess == nil {
		return View{State: StateUnauthenticated}
	}

	identity := sess.Identity
	return g.decide(&identity)
}

// BeginSignIn starts the OAuth handshake for key. It returns the provider
// URL to redirect to and the nonce the caller must store for the callback.
func (g *Gate) BeginSignIn(ctx context.Context, key string) (redirectURL, nonce string, err error) {
	if g.opts.Strategy != config.StrategyOAuth || g.authURLs == nil {
		return "", "", apperror.Forbidden("OAuth sign-in is not enabled")
	}
	if g.busy(key) {
		return "", "", apperror.Conflict("A sign-in is already in progress. Please wait for it to finish.")
	}

	nonce = auth.NewNonce()
	g.logger.Info("gate: sign-in started", slog.String("browserKey", key))
	return g.authURLs.AuthURL(nonce), nonce, nil
}

// Complete finishes the OAuth handshake from the browser's callback.
func (g *Gate) Complete(ctx context.Context, key string, cb Callback) View {
	return g.once(ctx, key, func(ctx context.Context) View { return g.complete(ctx, key, cb) })
}

// ConfirmIdentity signs in under the confirm strategy: the user states
// their GitHub username through confirmer, and the public profile lookup
// vouches for it.
func (g *Gate) ConfirmIdentity(ctx context.Context, key string, confirmer auth.Confirmer) View {
	return g.once(ctx, key, func(ctx context.Context) View { return g.confirm(ctx, key, confirmer) })
}

// SignOut clears the session for key. All tabs of the browser are told.
func (g *Gate) SignOut(ctx context.Context, key string) error {
	if err := g.sessions.Clear(ctx, key); err != nil {
		return fmt.Errorf("service/gate: signing out: %w", err)
	}
	g.logger.Info("gate: signed out", slog.String("browserKey", key))
	return nil
}

func (g *Gate) complete(ctx context.Context, key string, cb Callback) View {
	if g.opts.Strategy != config.StrategyOAuth || g.exchanger == nil {
		return g.failure(apperror.Forbidden("OAuth sign-in is not enabled"))
	}

	// Anti-forgery: reject unconditionally, never try to recover.
	if cb.StoredState == "" || subtle.ConstantTimeCompare([]byte(cb.State), []byte(cb.StoredState)) != 1 {
		g.logger.Warn("gate: oauth state mismatch", slog.String("browserKey", key))
		return g.failure(apperror.ForgeryDetected())
	}

	if cb.ProviderError != "" {
		g.logger.Info("gate: provider refused authorization",
			slog.String("browserKey", key),
			slog.String("error", cb.ProviderError),
		)
		return View{
			State:   StateUnauthenticated,
			Message: "GitHub authorization was cancelled. Please try again.",
			Reason:  ReasonCancelled,
		}
	}

	if cb.Code == "" {
		return g.failure(apperror.ValidationFailed("code", "Authentication failed: missing authorization code."))
	}

	identity, err := g.exchanger.Exchange(ctx, cb.Code, cb.State)
	if err != nil {
		g.logger.Warn("gate: code exchange failed",
			slog.String("browserKey", key),
			slog.String("error", errorChain(err)),
		)
		return g.failure(err)
	}

	if g.opts.VerifyIdentity {
		identity, err = g.verify(ctx, identity)
		if err != nil {
			return g.failure(err)
		}
	}

	return g.admit(ctx, key, identity)
}

func (g *Gate) confirm(ctx context.Context, key string, confirmer auth.Confirmer) View {
	if g.opts.Strategy != config.StrategyConfirm || g.verifier == nil {
		return g.failure(apperror.Forbidden("Username confirmation is not enabled"))
	}

	username, err := confirmer.Confirm(ctx, "Confirm your GitHub username")
	if errors.Is(err, auth.ErrConfirmCancelled) {
		return View{State: StateUnauthenticated, Message: "Sign-in cancelled.", Reason: ReasonCancelled}
	}
	if err != nil {
		return g.failure(err)
	}

	identity, err := g.verifier.Resolve(ctx, username)
	if err != nil {
		g.logger.Warn("gate: profile lookup failed",
			slog.String("username", username),
			slog.String("error", errorChain(err)),
		)
		return g.failure(err)
	}
	if identity == nil {
		return g.failure(apperror.IdentityNotFound(username))
	}

	return g.admit(ctx, key, identity)
}

// verify confirms the exchanged identity against GitHub's public profile and
// returns it with GitHub's canonical login casing. The email and display name
// from the exchange win: the public profile hides private emails.
func (g *Gate) verify(ctx context.Context, exchanged *model.Identity) (*model.Identity, error) {
	public, err := g.verifier.Resolve(ctx, exchanged.Username)
	if err != nil {
		g.logger.Warn("gate: profile lookup failed",
			slog.String("login", exchanged.Username),
			slog.String("error", errorChain(err)),
		)
		return nil, err
	}
	if public == nil {
		return nil, apperror.IdentityNotFound(exchanged.Username)
	}
	if public.ID != exchanged.ID {
		g.logger.Warn("gate: exchanged identity does not match public profile",
			slog.String("login", exchanged.Username),
			slog.Int64("exchangedID", exchanged.ID),
			slog.Int64("publicID", public.ID),
		)
		return nil, apperror.IdentityNotFound(exchanged.Username)
	}

	normalized := model.NewGitHubIdentity(
		exchanged.ID,
		public.Username,
		exchanged.DisplayName,
		exchanged.Email,
		firstNonEmpty(exchanged.AvatarURL, public.AvatarURL),
	)
	return &normalized, nil
}

// admit applies the access decision and persists only on success.
func (g *Gate) admit(ctx context.Context, key string, identity *model.Identity) View {
	view := g.decide(identity)
	if view.State != StateAuthorized {
		g.logger.Info("gate: access denied",
			slog.String("browserKey", key),
			slog.String("login", identity.Username),
		)
		return view
	}

	sess := &model.Session{Identity: *identity, CreatedAt: time.Now().UTC()}
	if err := g.sessions.Save(ctx, key, sess); err != nil {
		g.logger.Error("gate: saving session failed",
			slog.String("browserKey", key),
			slog.String("error", err.Error()),
		)
		return g.failure(err)
	}

	g.logger.Info("gate: signed in",
		slog.String("browserKey", key),
		slog.String("login", identity.Username),
	)
	return view
}

func (g *Gate) decide(identity *model.Identity) View {
	if g.decider.IsAuthorized(identity) {
		return View{State: StateAuthorized, Identity: identity}
	}
	return View{
		State:    StateDenied,
		Identity: identity,
		Message:  apperror.AccessDenied(identity.Username, g.opts.AccessContact).Message,
		Reason:   ReasonAccessDenied,
	}
}

// failure converts any error into an Unauthenticated view.
func (g *Gate) failure(err error) View {
	view := View{State: StateUnauthenticated, Reason: ReasonInternal, Message: "Something went wrong. Please try again."}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		view.Message = appErr.Message
	}

	switch {
	case errors.Is(err, apperror.ErrForgeryDetected):
		view.Reason = ReasonForgery
	case errors.Is(err, apperror.ErrIdentityNotFound):
		view.Reason = ReasonIdentityNotFound
	case errors.Is(err, apperror.ErrProviderUnavailable):
		view.Reason = ReasonProviderUnavailable
	case errors.Is(err, apperror.ErrValidation), errors.Is(err, apperror.ErrForbidden):
		view.Reason = ReasonInvalidInput
	case errors.Is(err, apperror.ErrConflict):
		view.Reason = ReasonInProgress
	case appErr == nil:
		// Storage or programming error: keep details out of the UI.
	}
	return view
}

// once runs fn at most once at a time per key; concurrent callers share the
// result.
//
// fn gets the first caller's values but not its cancellation: a waiter whose
// own request is live must not fail because the first tab navigated away.
// The exchange and lookup clients bound the flight with their own timeouts.
//
// Whatever the outcome, subscribers of key hear a settled event once the
// flight is over, so a tab rendered as Loading re-reads and moves on.
func (g *Gate) once(ctx context.Context, key string, fn func(context.Context) View) View {
	v, _, _ := g.flights.Do(key, func() (any, error) {
		g.enter(key)
		defer g.sessions.Settled(key)
		defer g.leave(key)
		return fn(context.WithoutCancel(ctx)), nil
	})
	return v.(View)
}

func (g *Gate) enter(key string) {
	g.mu.Lock()
	g.inFlight[key]++
	g.mu.Unlock()
}

func (g *Gate) leave(key string) {
	g.mu.Lock()
	if g.inFlight[key]--; g.inFlight[key] <= 0 {
		delete(g.inFlight, key)
	}
	g.mu.Unlock()
}

func (g *Gate) busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight[key] > 0
}

// errorChain renders err with its causes for logs. AppError.Error() returns
// only the user-facing message, so the wrapped cause is appended.
func errorChain(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Err != nil {
		return appErr.Message + ": " + appErr.Err.Error()
	}
	return err.Error()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
