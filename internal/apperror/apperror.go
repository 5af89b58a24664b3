// Package apperror defines the error taxonomy shared by the gate, the stores
// and the HTTP layer.
//
// Every failure in the sign-in flow is one of a handful of kinds. Callers
// test the kind with errors.Is and show AppError.Message to the user; the
// handler package maps kinds to HTTP status codes in one place.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// Sign-in flow kinds.
	ErrForgeryDetected     = errors.New("forgery detected")
	ErrIdentityNotFound    = errors.New("identity not found")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrAccessDenied        = errors.New("access denied")
	ErrCorruptSession      = errors.New("corrupt session")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports that the resource is busy or already in the requested state.
func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// ForgeryDetected is returned when an OAuth callback's state does not match
// the nonce issued for this browser. The attempt is dead; the user restarts.
func ForgeryDetected() *AppError {
	return &AppError{
		Err:     ErrForgeryDetected,
		Message: "Authentication failed: invalid state. Please try again.",
	}
}

// IdentityNotFound is a clean not-found from the public profile lookup.
func IdentityNotFound(username string) *AppError {
	return &AppError{
		Err:     ErrIdentityNotFound,
		Message: fmt.Sprintf("GitHub identity %q not found. Check the username and try again.", username),
		Field:   "username",
	}
}

// ProviderUnavailable wraps a transport or non-2xx failure from GitHub or the
// intermediary. cause is kept for logs; the message is always the retry hint.
func ProviderUnavailable(cause error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrProviderUnavailable, cause),
		Message: "Authentication service unavailable. Please try again later.",
	}
}

// ProviderRejected carries an error the intermediary reported in its body.
func ProviderRejected(reason string) *AppError {
	if reason == "" {
		reason = "Unknown error"
	}
	return &AppError{
		Err:     ErrProviderUnavailable,
		Message: "Authentication failed: " + reason,
	}
}

// AccessDenied is a valid identity that is not on the allow-list. contact is
// the path users should follow to request access.
func AccessDenied(username, contact string) *AppError {
	return &AppError{
		Err: ErrAccessDenied,
		Message: fmt.Sprintf(
			"Access denied. User %q is not in the allowed list. Please contact %s to request access.",
			username, contact,
		),
	}
}

// CorruptSession marks persisted session state that could not be decoded.
func CorruptSession(cause error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrCorruptSession, cause),
		Message: "stored session could not be read",
	}
}
