package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tinova-ai/tinova-web/internal/apperror"
	"github.com/tinova-ai/tinova-web/internal/model"
)

const userAgent = "tinova-web-dashboard/1.0"

// loginPattern is GitHub's login alphabet: alphanumerics separated by single
// hyphens, no leading or trailing hyphen, at most 39 characters.
var loginPattern = regexp.MustCompile(`^[A-Za-z0-9]+(-[A-Za-z0-9]+)*$`)

const maxLoginLength = 39

// Verifier confirms that a GitHub username exists using the public, read-only
// profile endpoint GET /users/{username}. No token is involved.
type Verifier struct {
	apiURL  string
	client  *http.Client
	timeout time.Duration
}

// NewVerifier creates a Verifier against apiURL (normally DefaultAPIURL).
// A nil client means http.DefaultClient.
func NewVerifier(apiURL string, client *http.Client, timeout time.Duration) *Verifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Verifier{
		apiURL:  strings.TrimRight(apiURL, "/"),
		client:  client,
		timeout: timeout,
	}
}

// ValidUsername reports whether s could be a GitHub login.
func ValidUsername(s string) bool {
	return len(s) <= maxLoginLength && loginPattern.MatchString(s)
}

// Resolve looks up username and returns its public Identity.
//
// RETURN CONTRACT:
//   - (identity, nil): the account exists; Username has GitHub's canonical casing
//   - (nil, nil): GitHub answered 404, no such user
//   - (nil, err): anything else; err wraps apperror.ErrProviderUnavailable
//     (or ErrValidation for a malformed username, checked before any I/O)
//
// Keeping "unknown user" out of the error path lets callers tell a typo apart
// from GitHub being down or rate limiting us.
func (v *Verifier) Resolve(ctx context.Context, username string) (*model.Identity, error) {
	username = strings.TrimSpace(username)
	if !ValidUsername(username) {
		return nil, apperror.ValidationFailed("username",
			fmt.Sprintf("%q is not a valid GitHub username", username))
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	endpoint := v.apiURL + "/users/" + url.PathEscape(username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building profile request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, apperror.ProviderUnavailable(fmt.Errorf("auth: GET /users/%s: %w", username, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		// 403/429 are rate limits, 5xx are outages. Either way: not the user's fault.
		return nil, apperror.ProviderUnavailable(&StatusError{URL: endpoint, Code: resp.StatusCode})
	}

	var profile GitHubUser
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, apperror.ProviderUnavailable(fmt.Errorf("auth: decoding profile: %w", err))
	}
	if profile.ID == 0 || profile.Login == "" {
		return nil, apperror.ProviderUnavailable(errors.New("auth: GitHub returned an incomplete profile"))
	}

	identity := model.NewGitHubIdentity(profile.ID, profile.Login, profile.Name, profile.Email, profile.AvatarURL)
	return &identity, nil
}
