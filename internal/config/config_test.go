package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimal returns the smallest environment that loads cleanly.
func minimal() map[string]string {
	return map[string]string{
		"SESSION_SECRET":   "test-secret-at-least-16-chars!!",
		"GITHUB_CLIENT_ID": "Iv1.testclient",
		"SITE_URL":         "https://tinova.example",
	}
}

func TestLoadFromMap_Defaults(t *testing.T) {
	cfg, err := LoadFromMap(minimal())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, StrategyOAuth, cfg.IdentityStrategy)
	assert.True(t, cfg.VerifyIdentity)
	assert.Equal(t, "https://tinova.example/dashboard", cfg.GitHubRedirectURL)
	assert.Equal(t, "https://tinova.example/api/github-oauth", cfg.IntermediaryURL)
	assert.Equal(t, "https://api.github.com", cfg.GitHubAPIURL)
	assert.Equal(t, 15*time.Second, cfg.ExchangeTimeout)
	assert.Equal(t, 10*time.Second, cfg.VerifyTimeout)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.Equal(t, BackendSQLite, cfg.SessionBackend)
	assert.Empty(t, cfg.AllowedGitHubUsers)
	assert.False(t, cfg.IntermediaryEnabled())
}

func TestLoadFromMap_AllowList(t *testing.T) {
	vars := minimal()
	vars["ALLOWED_GITHUB_USERS"] = " alice, bob ,,carol "

	cfg, err := LoadFromMap(vars)
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob", "carol"}, cfg.AllowedGitHubUsers)
}

func TestLoadFromMap_TrailingSlashOnSiteURL(t *testing.T) {
	vars := minimal()
	vars["SITE_URL"] = "https://tinova.example/"

	cfg, err := LoadFromMap(vars)
	require.NoError(t, err)

	assert.Equal(t, "https://tinova.example/dashboard", cfg.GitHubRedirectURL)
}

func TestLoadFromMap_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"short session secret", func(m map[string]string) { m["SESSION_SECRET"] = "short" }},
		{"missing client id for oauth", func(m map[string]string) { delete(m, "GITHUB_CLIENT_ID") }},
		{"plain http intermediary", func(m map[string]string) { m["OAUTH_INTERMEDIARY_URL"] = "http://auth.example/api" }},
		{"relative intermediary", func(m map[string]string) { m["OAUTH_INTERMEDIARY_URL"] = "/api/github-oauth" }},
		{"unknown strategy", func(m map[string]string) { m["IDENTITY_STRATEGY"] = "magic" }},
		{"unknown backend", func(m map[string]string) { m["SESSION_BACKEND"] = "redis" }},
		{"postgres without url", func(m map[string]string) { m["SESSION_BACKEND"] = "postgres" }},
		{"exchange timeout below floor", func(m map[string]string) { m["EXCHANGE_TIMEOUT"] = "2s" }},
		{"verify timeout below floor", func(m map[string]string) { m["VERIFY_TIMEOUT"] = "500ms" }},
		{"negative ttl", func(m map[string]string) { m["SESSION_TTL"] = "-1h" }},
		{"unparsable port", func(m map[string]string) { m["PORT"] = "eighty" }},
		{"dashboard path without slash", func(m map[string]string) { m["DASHBOARD_PATH"] = "dashboard" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := minimal()
			tt.mutate(vars)

			_, err := LoadFromMap(vars)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromMap_InsecureIntermediaryAllowedForDev(t *testing.T) {
	vars := minimal()
	vars["SITE_URL"] = "http://localhost:8080"
	vars["ALLOW_INSECURE_INTERMEDIARY"] = "true"

	cfg, err := LoadFromMap(vars)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/github-oauth", cfg.IntermediaryURL)
}

func TestLoadFromMap_ConfirmStrategyNeedsNoClientID(t *testing.T) {
	vars := minimal()
	delete(vars, "GITHUB_CLIENT_ID")
	vars["IDENTITY_STRATEGY"] = StrategyConfirm

	_, err := LoadFromMap(vars)
	assert.NoError(t, err)
}

func TestIntermediaryEnabled(t *testing.T) {
	vars := minimal()
	vars["GITHUB_CLIENT_SECRET"] = "shh"

	cfg, err := LoadFromMap(vars)
	require.NoError(t, err)
	assert.True(t, cfg.IntermediaryEnabled())
}
