package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tinova-ai/tinova-web/internal/apperror"
	"github.com/tinova-ai/tinova-web/internal/model"
)

// ExchangeRequest is the body of POST /api/github-oauth.
type ExchangeRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// ExchangeError is the intermediary's failure body.
type ExchangeError struct {
	Error string `json:"error"`
}

// maxExchangeBody caps how much of the intermediary's answer we read.
const maxExchangeBody = 64 << 10

// ExchangeClient talks to the trusted intermediary: the service that holds
// the GitHub client secret and turns an authorization code into a profile.
//
// The gate never holds the secret. Even when this binary also serves the
// intermediary endpoint, the gate goes through this client so the boundary
// stays explicit and the secret-bearing code path can be deployed elsewhere.
type ExchangeClient struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// NewExchangeClient validates endpoint and returns a client for it.
//
// The endpoint must be https unless allowInsecure is set (local development
// against http://localhost). A nil client means http.DefaultClient.
func NewExchangeClient(endpoint string, client *http.Client, timeout time.Duration, allowInsecure bool) (*ExchangeClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("auth: intermediary URL %q is not absolute", endpoint)
	}
	if u.Scheme != "https" && !allowInsecure {
		return nil, fmt.Errorf("auth: intermediary URL %q must use https", endpoint)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ExchangeClient{endpoint: endpoint, client: client, timeout: timeout}, nil
}

// Exchange POSTs {code, state} to the intermediary and returns the identity
// it vouches for.
//
// ERROR MAPPING:
//   - transport failure, timeout, 5xx          → apperror.ProviderUnavailable (retry hint)
//   - 4xx or 2xx carrying {"error": "..."}     → apperror.ProviderRejected (shows the reason)
//   - 2xx without a usable profile              → apperror.ProviderUnavailable
func (c *ExchangeClient) Exchange(ctx context.Context, code, state string) (*model.Identity, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(ExchangeRequest{Code: code, State: state})
	if err != nil {
		return nil, fmt.Errorf("auth: encoding exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("auth: building exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperror.ProviderUnavailable(fmt.Errorf("auth: calling intermediary: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxExchangeBody))
	if err != nil {
		return nil, apperror.ProviderUnavailable(fmt.Errorf("auth: reading intermediary response: %w", err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, apperror.ProviderUnavailable(&StatusError{URL: c.endpoint, Code: resp.StatusCode})
	}

	var failure ExchangeError
	_ = json.Unmarshal(raw, &failure)
	if failure.Error != "" {
		return nil, apperror.ProviderRejected(failure.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperror.ProviderRejected(fmt.Sprintf("intermediary returned status %d", resp.StatusCode))
	}

	var user GitHubUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, apperror.ProviderUnavailable(fmt.Errorf("auth: decoding intermediary response: %w", err))
	}
	if user.ID == 0 || user.Login == "" {
		return nil, apperror.ProviderUnavailable(errors.New("auth: intermediary returned an incomplete profile"))
	}

	identity := model.NewGitHubIdentity(user.ID, user.Login, user.Name, user.Email, user.AvatarURL)
	return &identity, nil
}
