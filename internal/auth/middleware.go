package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rs/xid"
)

// BrowserCookie is the name of the cookie carrying the signed browser key.
const BrowserCookie = "device"

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or shadow our values.
type contextKey string

const browserKeyKey contextKey = "browserKey"

// BrowserKey is a middleware that guarantees every request carries a browser
// key in its context.
//
// If the request has a valid "device" cookie, its key is reused. Otherwise a
// fresh xid is minted, signed, and set as a cookie on the response. The
// cookie is:
//   - HttpOnly: JavaScript can't read or steal it
//   - SameSite=Lax: sent on top-level navigations (the OAuth redirect back
//     from GitHub is one) but not on cross-site POSTs
//   - Secure when the deployment serves HTTPS
func BrowserKey(tokens *TokenService, secure bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := extractBrowserKey(r, tokens)
			if err != nil {
				key = xid.New().String()
				signed, err := tokens.Generate(key)
				if err != nil {
					logger.Error("browser key: signing failed", slog.String("error", err.Error()))
					http.Error(w, `{"error":"internal_error","message":"An internal error occurred"}`, http.StatusInternalServerError)
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     BrowserCookie,
					Value:    signed,
					Path:     "/",
					MaxAge:   int(BrowserKeyTTL.Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := WithBrowserKey(r.Context(), key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithBrowserKey stores key in ctx. Exposed for handler tests.
func WithBrowserKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, browserKeyKey, key)
}

// BrowserKeyFromContext retrieves the browser key set by BrowserKey.
// Returns ("", false) when the middleware did not run.
func BrowserKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(browserKeyKey).(string)
	return key, ok && key != ""
}

func extractBrowserKey(r *http.Request, tokens *TokenService) (string, error) {
	cookie, err := r.Cookie(BrowserCookie)
	if err != nil {
		return "", err
	}
	return tokens.Validate(cookie.Value)
}
