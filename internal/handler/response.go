package handler

// RESPONSE HELPERS:
// Every JSON answer goes through writeJSON, every failure through writeError.
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "forgery_detected", "message": "Authentication failed: invalid state. Please try again."}
//
// The dashboard's script only ever reads these two fields.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinova-ai/tinova-web/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// maxBodyBytes caps JSON request bodies. Every request this service accepts
// is a handful of short strings.
const maxBodyBytes = 16 << 10

// writeJSON sends a JSON response with the given status code.
//
// Headers and status must be set before the body: once Encode writes, the
// headers are on the wire and later changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// decodeJSON reads a size-limited JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return nil
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
// This is the one place sentinels become status codes. The service layer
// never knows about HTTP; errors.Is walks the wrap chain down to the sentinel.
//
//	ErrValidation          → 400 validation_error
//	ErrForgeryDetected     → 400 forgery_detected
//	ErrForbidden           → 403 forbidden
//	ErrAccessDenied        → 403 access_denied
//	ErrNotFound            → 404 not_found
//	ErrIdentityNotFound    → 404 identity_not_found
//	ErrConflict            → 409 conflict
//	ErrProviderUnavailable → 502 provider_unavailable
//	anything else          → 500 internal_error
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError

	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"
		message := appErr.Message

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrForgeryDetected):
			status = http.StatusBadRequest
			errorType = "forgery_detected"
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden
			errorType = "forbidden"
		case errors.Is(err, apperror.ErrAccessDenied):
			status = http.StatusForbidden
			errorType = "access_denied"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		case errors.Is(err, apperror.ErrIdentityNotFound):
			status = http.StatusNotFound
			errorType = "identity_not_found"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict
			errorType = "conflict"
		case errors.Is(err, apperror.ErrProviderUnavailable):
			status = http.StatusBadGateway
			errorType = "provider_unavailable"
		default:
			// Corrupt sessions and other internal kinds: the message is for logs.
			message = "An internal error occurred"
		}

		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: message,
		})
		return
	}

	// Unknown error: never expose internal details (SQL, file paths) to the client.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
