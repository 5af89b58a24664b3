// Package config loads the gate's deployment-time configuration.
//
// All settings come from environment variables and are parsed into a single
// struct with github.com/caarlos0/env. The result is read-only: main builds it
// once and hands pieces of it to the constructors that need them. Nothing in
// the codebase reads the environment after startup.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Identity-resolution strategies. Exactly one is active per deployment.
const (
	StrategyOAuth   = "oauth"   // GitHub redirect handshake through the intermediary
	StrategyConfirm = "confirm" // user types their login, verified by public lookup
)

// Session storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// minProviderTimeout is the shortest timeout allowed on any call to GitHub or
// the intermediary.
const minProviderTimeout = 10 * time.Second

// Config holds every setting the server needs.
type Config struct {
	Port        int        `env:"PORT"         envDefault:"8080"`
	LogLevel    slog.Level `env:"LOG_LEVEL"    envDefault:"INFO"`
	TemplateDir string     `env:"TEMPLATE_DIR" envDefault:"web/templates"`
	StaticDir   string     `env:"STATIC_DIR"   envDefault:"web/static"`

	// SiteURL is the public origin of the site, e.g. https://tinova-ai.cc.
	// It seeds the defaults for the redirect and intermediary URLs and is the
	// only origin allowed to call the intermediary cross-site.
	SiteURL       string `env:"SITE_URL"       envDefault:"http://localhost:8080"`
	DashboardPath string `env:"DASHBOARD_PATH" envDefault:"/dashboard"`

	IdentityStrategy string `env:"IDENTITY_STRATEGY" envDefault:"oauth"`
	// VerifyIdentity runs the public profile lookup after the code exchange.
	VerifyIdentity bool `env:"VERIFY_IDENTITY" envDefault:"true"`

	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"` // only needed when this binary is the intermediary
	GitHubRedirectURL  string `env:"GITHUB_REDIRECT_URL"`
	GitHubAPIURL       string `env:"GITHUB_API_URL" envDefault:"https://api.github.com"`

	IntermediaryURL           string        `env:"OAUTH_INTERMEDIARY_URL"`
	AllowInsecureIntermediary bool          `env:"ALLOW_INSECURE_INTERMEDIARY"`
	ExchangeTimeout           time.Duration `env:"EXCHANGE_TIMEOUT" envDefault:"15s"`
	VerifyTimeout             time.Duration `env:"VERIFY_TIMEOUT"   envDefault:"10s"`

	AllowedGitHubUsers []string `env:"ALLOWED_GITHUB_USERS" envSeparator:","`
	AccessContact      string   `env:"ACCESS_CONTACT"       envDefault:"an administrator"`

	SessionSecret  string        `env:"SESSION_SECRET"`
	SessionTTL     time.Duration `env:"SESSION_TTL"     envDefault:"720h"`
	SessionBackend string        `env:"SESSION_BACKEND" envDefault:"sqlite"`
	DBPath         string        `env:"DB_PATH"         envDefault:"data/gate.db"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	CookieSecure   bool          `env:"COOKIE_SECURE"`

	// StatusURL is the base URL of the SSL status feed. Empty disables the
	// status endpoints.
	StatusURL string `env:"STATUS_URL"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return load(env.Options{})
}

// LoadFromMap parses the given variables instead of the process environment.
// Handy for tests and for tools that build a config programmatically.
func LoadFromMap(vars map[string]string) (Config, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}

	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	if cfg.GitHubRedirectURL == "" {
		cfg.GitHubRedirectURL = cfg.SiteURL + cfg.DashboardPath
	}
	if cfg.IntermediaryURL == "" {
		cfg.IntermediaryURL = cfg.SiteURL + "/api/github-oauth"
	}
	cfg.AllowedGitHubUsers = trimAll(cfg.AllowedGitHubUsers)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once so a bad deploy shows the full list.
func (c Config) Validate() error {
	var errs []error

	if len(c.SessionSecret) < 16 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 16 characters"))
	}

	switch c.IdentityStrategy {
	case StrategyOAuth:
		if c.GitHubClientID == "" {
			errs = append(errs, errors.New("GITHUB_CLIENT_ID is required for the oauth strategy"))
		}
		if err := checkIntermediary(c.IntermediaryURL, c.AllowInsecureIntermediary); err != nil {
			errs = append(errs, err)
		}
	case StrategyConfirm:
	default:
		errs = append(errs, fmt.Errorf("IDENTITY_STRATEGY %q must be %q or %q",
			c.IdentityStrategy, StrategyOAuth, StrategyConfirm))
	}

	switch c.SessionBackend {
	case BackendSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_BACKEND %q must be %q or %q",
			c.SessionBackend, BackendSQLite, BackendPostgres))
	}

	if c.ExchangeTimeout < minProviderTimeout {
		errs = append(errs, fmt.Errorf("EXCHANGE_TIMEOUT must be at least %s", minProviderTimeout))
	}
	if c.VerifyTimeout < minProviderTimeout {
		errs = append(errs, fmt.Errorf("VERIFY_TIMEOUT must be at least %s", minProviderTimeout))
	}
	if c.SessionTTL < 0 {
		errs = append(errs, errors.New("SESSION_TTL must not be negative"))
	}
	if !strings.HasPrefix(c.DashboardPath, "/") {
		errs = append(errs, errors.New("DASHBOARD_PATH must start with /"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// IntermediaryEnabled reports whether this binary should also serve the
// code-exchange endpoint. That only makes sense when it holds the secret.
func (c Config) IntermediaryEnabled() bool {
	return c.GitHubClientSecret != "" && c.GitHubClientID != ""
}

func checkIntermediary(raw string, allowInsecure bool) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("OAUTH_INTERMEDIARY_URL %q is not an absolute URL", raw)
	}
	if u.Scheme != "https" && !allowInsecure {
		return fmt.Errorf("OAUTH_INTERMEDIARY_URL %q must use https", raw)
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
