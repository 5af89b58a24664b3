package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// DefaultAPIURL is GitHub's REST API root.
const DefaultAPIURL = "https://api.github.com"

// GitHubUser is the portion of the GitHub /user API response we care about.
// GitHub returns a much larger object; we only unmarshal the fields we need.
//
// The same shape is what the intermediary answers with, so the gate and the
// intermediary share this struct on both ends of POST /api/github-oauth.
//
// GitHub API docs: https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type GitHubUser struct {
	ID        int64  `json:"id"`         // GitHub's numeric user ID, stable
	Login     string `json:"login"`      // GitHub username, e.g. "octocat"
	Name      string `json:"name"`       // Display name (may be empty)
	Email     string `json:"email"`      // Primary email (empty if hidden in GitHub settings)
	AvatarURL string `json:"avatar_url"` // Profile picture URL
}

// githubEmail is one entry of GET /user/emails.
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Scopes is the minimum GitHub needs to show us the profile and the primary email.
var Scopes = []string{"read:user", "user:email"}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW, AS THE GATE USES IT:
//  1. The gate redirects the browser to GitHub's authorize endpoint with the
//     client ID, scopes and a one-time state nonce (AuthURL).
//  2. The user approves on GitHub.
//  3. GitHub redirects back to the dashboard with a short-lived "code".
//  4. The code is POSTed to the trusted intermediary, which holds the client
//     secret and calls Exchange to trade it for a profile.
//
// The gate itself only ever calls AuthURL. Exchange needs the secret and runs
// in the intermediary role; when the gate and the intermediary live in the
// same binary they still talk over HTTP.
type GitHubProvider struct {
	config *oauth2.Config
	apiURL string
}

// ProviderOption customises a GitHubProvider. Tests use these to point the
// provider at an httptest server.
type ProviderOption func(*GitHubProvider)

// WithEndpoint overrides GitHub's OAuth endpoints.
func WithEndpoint(ep oauth2.Endpoint) ProviderOption {
	return func(p *GitHubProvider) { p.config.Endpoint = ep }
}

// WithAPIURL overrides the REST API root used after the exchange.
func WithAPIURL(apiURL string) ProviderOption {
	return func(p *GitHubProvider) { p.apiURL = strings.TrimRight(apiURL, "/") }
}

// NewGitHubProvider creates a GitHubProvider with the given credentials.
//
// clientSecret may be empty when the binary only plays the gate role; AuthURL
// never uses it. callbackURL must match the OAuth App's "Authorization callback
// URL" exactly, e.g. "https://tinova-ai.cc/dashboard".
func NewGitHubProvider(clientID, clientSecret, callbackURL string, opts ...ProviderOption) *GitHubProvider {
	p := &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       Scopes,
			Endpoint:     github.Endpoint, // pre-defined GitHub OAuth endpoints
		},
		apiURL: DefaultAPIURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewNonce returns a fresh, unguessable OAuth state value.
//
// oauth2.GenerateVerifier reads 32 bytes from crypto/rand and base64url-encodes
// them. It is meant for PKCE verifiers, which have the same requirements as a
// state nonce: single use and impossible to predict.
func NewNonce() string {
	return oauth2.GenerateVerifier()
}

// AuthURL returns the URL to redirect the user to for authorization:
//
//	https://github.com/login/oauth/authorize?client_id=…&redirect_uri=…&scope=…&state=…
//
// The state must be stored (we use a short-lived cookie) so the callback can
// prove it was started by this browser.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// ErrNoSecret is returned by Exchange when the provider was built without a
// client secret, i.e. the binary is not configured as the intermediary.
var ErrNoSecret = errors.New("auth: GitHub client secret not configured")

// Exchange completes the OAuth flow on the intermediary side: trades the
// authorization code for a GitHub user profile.
//
// Steps:
//  1. Exchange the code for an OAuth access token (server-to-server)
//  2. Use the token to call GitHub's /user API endpoint
//  3. If the profile hides its email, read the primary one from /user/emails
//
// A rejected code surfaces as *oauth2.RetrieveError so the HTTP layer can pass
// GitHub's error description back to the caller.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*GitHubUser, error) {
	if p.config.ClientSecret == "" {
		return nil, ErrNoSecret
	}

	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	// oauth2.Config.Client returns an *http.Client that automatically adds
	// the "Authorization: Bearer <token>" header to every request.
	client := p.config.Client(ctx, oauthToken)

	var ghUser GitHubUser
	if err := getJSON(ctx, client, p.apiURL+"/user", &ghUser); err != nil {
		return nil, fmt.Errorf("auth: calling GitHub /user API: %w", err)
	}

	if ghUser.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	if ghUser.Email == "" {
		// Best effort: a missing email never fails the sign-in.
		var emails []githubEmail
		if err := getJSON(ctx, client, p.apiURL+"/user/emails", &emails); err == nil {
			ghUser.Email = primaryEmail(emails)
		}
	}

	return &ghUser, nil
}

func primaryEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary {
			return e.Email
		}
	}
	return ""
}

// getJSON performs a GitHub API GET and decodes a 200 response into dst.
func getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: url, Code: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// StatusError is a non-200 answer from a GitHub or intermediary endpoint.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.Code)
}
