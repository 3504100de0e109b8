package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates the identity exceeded its failed attempt budget.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountSuspended indicates an administratively suspended principal.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrRateLimited indicates the source address is being throttled.
	ErrRateLimited = errors.New("rate limited")
	// ErrCorruptCredential indicates a stored credential hash could not be decoded.
	ErrCorruptCredential = errors.New("corrupt credential")

	// ErrTokenExpired indicates a bearer token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked indicates a refresh token already consumed or revoked.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrInvalidSignature indicates a bearer token failing signature checks.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrMalformedToken indicates a bearer token that cannot be parsed.
	ErrMalformedToken = errors.New("malformed token")

	// ErrSessionExpired indicates an idle or missing session.
	ErrSessionExpired = errors.New("session expired")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")

	// ErrPermissionDenied indicates the principal lacks a permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrCrossTenant indicates access to another tenant's data. Rendered as not found.
	ErrCrossTenant = errors.New("cross tenant access")
)

// IsCredentialFailure reports whether err belongs to the credential family
// that is rendered to clients as a generic "invalid credentials".
func IsCredentialFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrAccountSuspended) ||
		errors.Is(err, ErrCorruptCredential)
}

// IsTokenFailure reports whether err belongs to the token/session family
// that is rendered to clients as "invalid or expired session/token".
func IsTokenFailure(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrSessionExpired)
}

// FailureReason returns a stable label for metrics and logs.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrAccountSuspended):
		return "account_suspended"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrCorruptCredential):
		return "corrupt_credential"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrCSRFTokenMissing), errors.Is(err, ErrCSRFTokenMismatch):
		return "csrf"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrCrossTenant):
		return "cross_tenant"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
