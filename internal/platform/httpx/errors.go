// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// Client-facing messages. Internal causes never leak past these.
const (
	MessageInvalidCredentials = "invalid credentials"
	MessageInvalidToken       = "invalid or expired session/token"
	MessageTooManyAttempts    = "too many attempts, try again later"
)

// Sentinel errors for request-level failures.
var (
	ErrValidation = errors.New("validation failed")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrAccountLocked), errors.Is(err, shared.ErrRateLimited):
		Problem(w, http.StatusTooManyRequests, "Too Many Requests", MessageTooManyAttempts)
	case shared.IsCredentialFailure(err):
		Problem(w, http.StatusUnauthorized, "Unauthorized", MessageInvalidCredentials)
	case shared.IsTokenFailure(err):
		Problem(w, http.StatusUnauthorized, "Unauthorized", MessageInvalidToken)
	case errors.Is(err, shared.ErrCSRFTokenMissing), errors.Is(err, shared.ErrCSRFTokenMismatch):
		Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, shared.ErrPermissionDenied):
		Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, shared.ErrCrossTenant), errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
