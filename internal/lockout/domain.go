package lockout

import "time"

// Attempt is one login attempt as written to the audit log.
type Attempt struct {
	ID            string
	Identity      string
	SourceAddress string
	At            time.Time
	Success       bool
	FailureReason string
}

// Failure reasons recorded on attempts.
const (
	ReasonBadSecret       = "bad_secret"
	ReasonUnknownIdentity = "unknown_identity"
	ReasonLocked          = "account_locked"
	ReasonThrottled       = "rate_limited"
	ReasonSuspended       = "account_suspended"
	ReasonInactive        = "account_inactive"
	ReasonCorrupt         = "corrupt_credential"
)

// Policy configures the counters.
type Policy struct {
	IdentityThreshold int64
	IdentityWindow    time.Duration
	SourceThreshold   int64
	SourceWindow      time.Duration
}

// DefaultPolicy locks an identity after 5 failures in 15 minutes and a
// source after 50.
var DefaultPolicy = Policy{
	IdentityThreshold: 5,
	IdentityWindow:    15 * time.Minute,
	SourceThreshold:   50,
	SourceWindow:      15 * time.Minute,
}
