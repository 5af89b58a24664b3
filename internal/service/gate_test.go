package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinova-ai/tinova-web/internal/access"
	"github.com/tinova-ai/tinova-web/internal/apperror"
	"github.com/tinova-ai/tinova-web/internal/auth"
	"github.com/tinova-ai/tinova-web/internal/config"
	"github.com/tinova-ai/tinova-web/internal/model"
)

const contact = "ops@tinova.ai"

type gateFixture struct {
	gate      *Gate
	repo      *fakeSessionRepo
	events    *SessionEvents
	exchanger *fakeExchanger
	resolver  *fakeResolver
}

// newOAuthGate builds a gate with allow-list {"alice"}, an exchanger that
// returns identity, and a resolver that knows alice, bob and Octocat.
func newOAuthGate(t *testing.T, identity model.Identity, verify bool) *gateFixture {
	t.Helper()
	repo := newFakeSessionRepo()
	events := NewSessionEvents()
	store := NewSessionStore(repo, events, time.Hour, discardLogger())
	ex := &fakeExchanger{identity: &identity}
	res := &fakeResolver{profiles: map[string]model.Identity{
		"alice":   ghIdentity(1, "alice"),
		"bob":     ghIdentity(2, "bob"),
		"Octocat": ghIdentity(583231, "Octocat"),
	}}

	gate := NewGate(
		access.NewAllowList([]string{"alice"}),
		store,
		fakeAuthURLs{},
		ex,
		res,
		GateOptions{Strategy: config.StrategyOAuth, VerifyIdentity: verify, AccessContact: contact},
		discardLogger(),
	)
	return &gateFixture{gate: gate, repo: repo, events: events, exchanger: ex, resolver: res}
}

func callback(nonce string) Callback {
	return Callback{Code: "code-123", State: nonce, StoredState: nonce}
}

func TestGate_AllowedIdentityIsAuthorized(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(1, "alice"), true)
	ctx := context.Background()

	view := f.gate.Complete(ctx, "k1", callback("n1"))

	assert.Equal(t, StateAuthorized, view.State)
	require.NotNil(t, view.Identity)
	assert.Equal(t, "alice", view.Identity.Username)
	assert.True(t, f.repo.has("k1"))

	// A later page load sees the same state from the stored session.
	assert.Equal(t, StateAuthorized, f.gate.Current(ctx, "k1").State)
}

func TestGate_AllowListIsCaseInsensitive(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(1, "ALICE"), false)

	view := f.gate.Complete(context.Background(), "k1", callback("n1"))
	assert.Equal(t, StateAuthorized, view.State)
}

func TestGate_UnlistedIdentityIsDenied(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(2, "bob"), true)
	ctx := context.Background()

	view := f.gate.Complete(ctx, "k1", callback("n1"))

	assert.Equal(t, StateDenied, view.State)
	assert.Equal(t, ReasonAccessDenied, view.Reason)
	assert.Contains(t, view.Message, `"bob"`)
	assert.Contains(t, view.Message, contact)
	require.NotNil(t, view.Identity)
	assert.Equal(t, "bob", view.Identity.Username)

	assert.False(t, f.repo.has("k1"), "denied identities are never persisted")
	assert.Equal(t, StateUnauthenticated, f.gate.Current(ctx, "k1").State)
}

func TestGate_StateMismatchNeverExchanges(t *testing.T) {
	tests := []struct {
		name string
		cb   Callback
	}{
		{"different nonce", Callback{Code: "c", State: "attacker", StoredState: "mine"}},
		{"no stored nonce", Callback{Code: "c", State: "whatever"}},
		{"no returned state", Callback{Code: "c", StoredState: "mine"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOAuthGate(t, ghIdentity(1, "alice"), true)

			view := f.gate.Complete(context.Background(), "k1", tt.cb)

			assert.Equal(t, StateUnauthenticated, view.State)
			assert.Equal(t, ReasonForgery, view.Reason)
			assert.Contains(t, view.Message, "invalid state")
			assert.Zero(t, f.exchanger.callCount())
			assert.False(t, f.repo.has("k1"))
		})
	}
}

func TestGate_ProviderErrorIsCancellation(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(1, "alice"), true)
	cb := callback("n1")
	cb.Code = ""
	cb.ProviderError = "access_denied"

	view := f.gate.Complete(context.Background(), "k1", cb)

	assert.Equal(t, StateUnauthenticated, view.State)
	assert.Equal(t, ReasonCancelled, view.Reason)
	assert.Zero(t, f.exchanger.callCount())
}

func TestGate_MissingCode(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(1, "alice"), true)
	cb := callback("n1")
	cb.Code = ""

	view := f.gate.Complete(context.Background(), "k1", cb)

	assert.Equal(t, StateUnauthenticated, view.State)
	assert.Equal(t, ReasonInvalidInput, view.Reason)
	assert.Zero(t, f.exchanger.callCount())
}

func TestGate_IntermediaryServerErrorShowsRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	exchanger, err := auth.NewExchangeClient(srv.URL, srv.Client(), time.Second, true)
	require.NoError(t, err)

	repo := newFakeSessionRepo()
	gate := NewGate(
		access.NewAllowList([]string{"alice"}),
		NewSessionStore(repo, NewSessionEvents(), time.Hour, discardLogger()),
		fakeAuthURLs{},
		exchanger,
		nil,
		GateOptions{Strategy: config.StrategyOAuth},
		discardLogger(),
	)

	view := gate.Complete(context.Background(), "k1", callback("n1"))

	assert.Equal(t, StateUnauthenticated, view.State)
	assert.Equal(t, ReasonProviderUnavailable, view.Reason)
	assert.Contains(t, strings.ToLower(view.Message), "try again")
	assert.Zero(t, repo.putCount())
}

func TestGate_IntermediaryRejectionShowsReason(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(1, "alice"), true)
	f.exchanger.err = apperror.ProviderRejected("bad_verification_code")

	view := f.gate.Complete(context.Background(), "k1", callback("n1"))

	assert.Equal(t, StateUnauthenticated, view.State)
	assert.Equal(t, "Authentication failed: bad_verification_code", view.Message)
}

func TestGate_VerifyNormalizesLogin(t *testing.T) {
	exchanged := model.NewGitHubIdentity(583231, "octocat", "The Octocat", "private@github.com", "")
	f := newOAuthGate(t, exchanged, true)
	f.gate.decider = access.NewAllowList([]string{"octocat"})

	view := f.gate.Complete(context.Background(), "k1", callback("n1"))

	require.Equal(t, StateAuthorized, view.State)
	assert.Equal(t, "Octocat", view.Identity.Username, "canonical casing from the public profile")
	assert.Equal(t, "private@github.com", view.Identity.Email, "exchange email wins")
	assert.Equal(t, "The Octocat", view.Identity.DisplayName)
	assert.NotEmpty(t, view.Identity.AvatarURL)
	assert.Equal(t, 1, f.resolver.calls)
}

func TestGate_VerifyNotFound(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(99, "doesnotexist123"), true)

	view := f.gate.Complete(context.Background(), "k1", callback("n1"))

	assert.Equal(t, StateUnauthenticated, view.State)
	assert.Equal(t, ReasonIdentityNotFound, view.Reason)
	assert.Contains(t, view.Message, "doesnotexist123")
	assert.Contains(t, view.Message, "not found")
	assert.False(t, f.repo.has("k1"))
}

func TestGate_VerifyIDMismatch(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(42, "alice"), true) // alice is ID 1 publicly

	view := f.gate.Complete(context.Background(), "k1", callback("n1"))

	assert.Equal(t, StateUnauthenticated, view.State)
	assert.Equal(t, ReasonIdentityNotFound, view.Reason)
}

func TestGate_VerifyOutage(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(1, "alice"), true)
	f.resolver.err = apperror.ProviderUnavailable(assert.AnError)

	view := f.gate.Complete(context.Background(), "k1", callback("n1"))

	assert.Equal(t, StateUnauthenticated, view.State)
	assert.Equal(t, ReasonProviderUnavailable, view.Reason)
	assert.False(t, f.repo.has("k1"))
}

func TestGate_CrossTabSignIn(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(1, "alice"), true)
	ctx := context.Background()

	// Tab B is open and signed out.
	assert.Equal(t, StateUnauthenticated, f.gate.Current(ctx, "k1").State)
	tabB, cancel := f.events.Subscribe("k1")
	defer cancel()

	// Tab A signs in.
	require.Equal(t, StateAuthorized, f.gate.Complete(ctx, "k1", callback("n1")).State)

	select {
	case ev := <-tabB:
		assert.Equal(t, SessionSaved, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("tab B was not notified")
	}
	assert.Equal(t, StateAuthorized, f.gate.Current(ctx, "k1").State)
}

func TestGate_SignOut(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(1, "alice"), true)
	ctx := context.Background()

	require.Equal(t, StateAuthorized, f.gate.Complete(ctx, "k1", callback("n1")).State)
	tab, cancel := f.events.Subscribe("k1")
	defer cancel()

	require.NoError(t, f.gate.SignOut(ctx, "k1"))

	assert.Equal(t, SessionCleared, (<-tab).Kind)
	assert.Equal(t, StateUnauthenticated, f.gate.Current(ctx, "k1").State)
	assert.False(t, f.repo.has("k1"))
}

func TestGate_StoredSessionRecheckedAgainstAllowList(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(1, "alice"), true)
	ctx := context.Background()

	require.Equal(t, StateAuthorized, f.gate.Complete(ctx, "k1", callback("n1")).State)

	// alice was removed from the list after signing in.
	f.gate.decider = access.NewAllowList([]string{"carol"})

	view := f.gate.Current(ctx, "k1")
	assert.Equal(t, StateDenied, view.State)
	assert.Contains(t, view.Message, contact)
}

func TestGate_CorruptSessionLoadsAsSignedOut(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(1, "alice"), true)
	f.repo.docs["k1"] = []byte("{not json")

	view := f.gate.Current(context.Background(), "k1")

	assert.Equal(t, StateUnauthenticated, view.State)
	assert.Empty(t, view.Message)
	assert.False(t, f.repo.has("k1"))
}

func TestGate_BeginSignIn(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(1, "alice"), true)

	url, nonce, err := f.gate.BeginSignIn(context.Background(), "k1")
	require.NoError(t, err)
	assert.NotEmpty(t, nonce)
	assert.Contains(t, url, "state="+nonce)

	_, other, err := f.gate.BeginSignIn(context.Background(), "k1")
	require.NoError(t, err)
	assert.NotEqual(t, nonce, other, "every redirect gets a fresh nonce")
}

func TestGate_ConcurrentCompletionsCoalesce(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(1, "alice"), false)
	f.exchanger.started = make(chan struct{}, 1)
	f.exchanger.release = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	views := make([]View, 3)
	start := func(i int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			views[i] = f.gate.Complete(ctx, "k1", callback("n1"))
		}()
	}

	start(0)
	<-f.exchanger.started

	// While the first exchange is running the page shows Loading, and a new
	// redirect is refused.
	assert.Equal(t, StateLoading, f.gate.Current(ctx, "k1").State)
	_, _, err := f.gate.BeginSignIn(ctx, "k1")
	assert.ErrorIs(t, err, apperror.ErrConflict)

	start(1)
	start(2)
	time.Sleep(50 * time.Millisecond)
	close(f.exchanger.release)
	wg.Wait()

	assert.Equal(t, 1, f.exchanger.callCount())
	assert.Equal(t, 1, f.repo.putCount())
	for _, v := range views {
		assert.Equal(t, StateAuthorized, v.State)
	}
	assert.Equal(t, StateAuthorized, f.gate.Current(ctx, "k1").State)
}

func TestGate_LoadingTabHearsEveryOutcome(t *testing.T) {
	tests := []struct {
		name     string
		identity model.Identity
		err      error
		want     State
	}{
		{name: "authorized", identity: ghIdentity(1, "alice"), want: StateAuthorized},
		{name: "denied", identity: ghIdentity(2, "bob"), want: StateDenied},
		{name: "intermediary down", identity: ghIdentity(1, "alice"), err: apperror.ProviderUnavailable(assert.AnError), want: StateUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOAuthGate(t, tt.identity, false)
			f.exchanger.err = tt.err
			f.exchanger.started = make(chan struct{}, 1)
			f.exchanger.release = make(chan struct{})
			ctx := context.Background()

			done := make(chan View, 1)
			go func() { done <- f.gate.Complete(ctx, "k1", callback("n1")) }()
			<-f.exchanger.started

			// Tab B loads mid sign-in and waits for news.
			require.Equal(t, StateLoading, f.gate.Current(ctx, "k1").State)
			tabB, cancel := f.events.Subscribe("k1")
			defer cancel()

			close(f.exchanger.release)
			assert.Equal(t, tt.want, (<-done).State)

			deadline := time.After(time.Second)
			for {
				select {
				case ev := <-tabB:
					if ev.Kind != SessionSettled {
						continue
					}
					assert.NotEqual(t, StateLoading, f.gate.Current(ctx, "k1").State)
					return
				case <-deadline:
					t.Fatal("tab B was never told the sign-in ended")
				}
			}
		})
	}
}

func TestGate_WaiterOutlivesFirstCaller(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(1, "alice"), false)
	f.exchanger.started = make(chan struct{}, 1)
	f.exchanger.release = make(chan struct{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan View, 1)
	go func() { first <- f.gate.Complete(firstCtx, "k1", callback("n1")) }()
	<-f.exchanger.started

	second := make(chan View, 1)
	go func() { second <- f.gate.Complete(context.Background(), "k1", callback("n1")) }()
	time.Sleep(50 * time.Millisecond)

	// The first tab navigates away before the exchange answers.
	cancelFirst()
	close(f.exchanger.release)

	assert.Equal(t, StateAuthorized, (<-second).State)
	assert.Equal(t, StateAuthorized, (<-first).State)
	assert.Equal(t, 1, f.exchanger.callCount())
	assert.True(t, f.repo.has("k1"))
}

func TestGate_OtherBrowsersAreIndependent(t *testing.T) {
	f := newOAuthGate(t, ghIdentity(1, "alice"), true)
	ctx := context.Background()

	require.Equal(t, StateAuthorized, f.gate.Complete(ctx, "k1", callback("n1")).State)
	assert.Equal(t, StateUnauthenticated, f.gate.Current(ctx, "k2").State)
}

func newConfirmGate(t *testing.T) (*Gate, *fakeSessionRepo) {
	t.Helper()
	repo := newFakeSessionRepo()
	res := &fakeResolver{profiles: map[string]model.Identity{
		"octocat": ghIdentity(583231, "octocat"),
		"bob":     ghIdentity(2, "bob"),
	}}
	gate := NewGate(
		access.NewAllowList(nil), // demo fallback: octocat
		NewSessionStore(repo, NewSessionEvents(), time.Hour, discardLogger()),
		nil,
		nil,
		res,
		GateOptions{Strategy: config.StrategyConfirm},
		discardLogger(),
	)
	return gate, repo
}

func TestGate_ConfirmIdentity(t *testing.T) {
	tests := []struct {
		name       string
		answer     string
		wantState  State
		wantReason string
		persisted  bool
	}{
		{"allowed", "octocat", StateAuthorized, "", true},
		{"denied", "bob", StateDenied, ReasonAccessDenied, false},
		{"not found", "doesnotexist123", StateUnauthenticated, ReasonIdentityNotFound, false},
		{"cancelled", "", StateUnauthenticated, ReasonCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, repo := newConfirmGate(t)

			view := gate.ConfirmIdentity(context.Background(), "k1", auth.Answer(tt.answer))

			assert.Equal(t, tt.wantState, view.State)
			assert.Equal(t, tt.wantReason, view.Reason)
			assert.Equal(t, tt.persisted, repo.has("k1"))
		})
	}
}

func TestGate_DeniedMessageUsesDefaultContact(t *testing.T) {
	gate, _ := newConfirmGate(t)

	view := gate.ConfirmIdentity(context.Background(), "k1", auth.Answer("bob"))
	assert.Contains(t, view.Message, "an administrator")
}

func TestGate_StrategyMismatch(t *testing.T) {
	gate, _ := newConfirmGate(t)

	_, _, err := gate.BeginSignIn(context.Background(), "k1")
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	view := gate.Complete(context.Background(), "k1", callback("n1"))
	assert.Equal(t, StateUnauthenticated, view.State)

	f := newOAuthGate(t, ghIdentity(1, "alice"), true)
	view = f.gate.ConfirmIdentity(context.Background(), "k1", auth.Answer("alice"))
	assert.Equal(t, StateUnauthenticated, view.State)
	assert.False(t, f.repo.has("k1"))
}
