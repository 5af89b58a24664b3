// Package auth holds the identity pieces of the dashboard gate: the GitHub
// OAuth provider, the trusted-intermediary client, the public profile
// verifier, and the signed browser-key cookie.
//
// BROWSER KEYS:
// Each browser gets a random key (an xid) the first time it visits. The key
// is what sessions are stored under, the server-side equivalent of one fixed
// slot in the browser's own storage. It travels in an HttpOnly cookie as a
// signed JWT so nobody can forge another browser's key:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Payload: {"sub":"<browser key>","iss":"tinova-web","exp":...}
//	- Signature: HMAC-SHA256 with a key derived from SESSION_SECRET
//
// All tabs of one browser share the cookie, so they share a session.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	issuer = "tinova-web"

	// BrowserKeyTTL is how long a browser keeps its key.
	BrowserKeyTTL = 365 * 24 * time.Hour

	// hkdfInfo scopes the derived key to browser-key signing, so the same
	// SESSION_SECRET can seed other keys later without reuse.
	hkdfInfo = "tinova-web browser key v1"
)

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService from the configured secret.
//
// The HMAC key is not the secret itself: HKDF-SHA256 stretches the operator's
// string into a uniformly random 32-byte key.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: session secret must be at least 16 characters")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("auth: deriving signing key: %w", err)
	}
	return &TokenService{secret: key}, nil
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a browser key for BrowserKeyTTL.
func (s *TokenService) Generate(browserKey string) (string, error) {
	return s.GenerateWithDuration(browserKey, BrowserKeyTTL)
}

// GenerateWithDuration signs a browser key with a custom lifetime.
// Tests use a negative duration to get an already-expired token.
func (s *TokenService) GenerateWithDuration(browserKey string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   browserKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string and returns the browser key.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired
//   - Issuer matches
//   - Algorithm is HS256 (prevents "alg: none" and algorithm confusion)
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}

	if c.Subject == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}

	return c.Subject, nil
}
