// Package status proxies the SSL certificate feed shown on the dashboard.
//
// The feed lives on a separate monitoring host. The dashboard never talks to
// it from the browser: handlers call Client, which adds timeouts, validates
// the envelope and re-classifies every certificate with the local thresholds.
// There is no mock fallback. If the feed is down, callers get an error.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Certificate health levels.
const (
	LevelHealthy  = "healthy"
	LevelWarning  = "warning"
	LevelCritical = "critical"
	LevelError    = "error"
)

// Alert thresholds in days until expiration.
const (
	WarningDays  = 30
	CriticalDays = 7
)

const (
	FetchTimeout = 10 * time.Second
	CheckTimeout = 15 * time.Second

	userAgent   = "tinova-web-dashboard/1.0"
	maxFeedBody = 1 << 20
)

// Certificate is one domain's certificate as reported by the feed.
type Certificate struct {
	Domain              string             `json:"domain"`
	Status              string             `json:"status"`
	DaysUntilExpiration int                `json:"daysUntilExpiration"`
	ExpiryDate          string             `json:"expiryDate"`
	Issuer              string             `json:"issuer"`
	LastChecked         string             `json:"lastChecked"`
	Details             CertificateDetails `json:"certificateDetails"`
}

type CertificateDetails struct {
	SANDomains  []string `json:"sanDomains"`
	AutoRenewal string   `json:"autoRenewal"`
}

// envelope is the feed's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Classify maps days until expiration to a health level.
func Classify(days int) string {
	switch {
	case days < 0:
		return LevelError
	case days <= CriticalDays:
		return LevelCritical
	case days <= WarningDays:
		return LevelWarning
	default:
		return LevelHealthy
	}
}

// Client calls the monitoring host.
type Client struct {
	baseURL      string
	client       *http.Client
	fetchTimeout time.Duration
	checkTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeouts overrides the fetch and check timeouts. Tests use short ones.
func WithTimeouts(fetch, check time.Duration) Option {
	return func(c *Client) {
		c.fetchTimeout = fetch
		c.checkTimeout = check
	}
}

// NewClient returns a Client for the feed at baseURL. A nil client means
// http.DefaultClient.
func NewClient(baseURL string, client *http.Client, opts ...Option) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		fetchTimeout: FetchTimeout,
		checkTimeout: CheckTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the current certificate list, each one re-classified.
func (c *Client) Fetch(ctx context.Context) ([]Certificate, error) {
	env, err := c.call(ctx, http.MethodGet, "/ssl-status", c.fetchTimeout)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("status: feed error: %s", orUnknown(env.Error))
	}

	var certs []Certificate
	if err := json.Unmarshal(env.Data, &certs); err != nil || certs == nil {
		return nil, errors.New("status: feed returned no certificate list")
	}
	for i := range certs {
		certs[i].Status = Classify(certs[i].DaysUntilExpiration)
	}
	return certs, nil
}

// TriggerCheck asks the monitoring host to re-check every certificate now
// and returns whatever the host reported back.
func (c *Client) TriggerCheck(ctx context.Context) (json.RawMessage, error) {
	env, err := c.call(ctx, http.MethodPost, "/ssl-check", c.checkTimeout)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return json.RawMessage("null"), nil
	}
	return env.Data, nil
}

func (c *Client) call(ctx context.Context, method, path string, timeout time.Duration) (*envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("status: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status: calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status: %s returned HTTP %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedBody)).Decode(&env); err != nil {
		return nil, fmt.Errorf("status: decoding %s: %w", path, err)
	}
	return &env, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "invalid response format"
	}
	return s
}
