package principals

import (
	"errors"
	"time"
)

// Kind classifies a principal.
type Kind string

// Principal kinds.
const (
	KindPlatformOperator Kind = "platform_operator"
	KindTenantOwner      Kind = "tenant_owner"
	KindTenantStaff      Kind = "tenant_staff"
	KindTenantMember     Kind = "tenant_member"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPlatformOperator, KindTenantOwner, KindTenantStaff, KindTenantMember:
		return true
	}
	return false
}

// Status is the lifecycle state of a principal.
type Status string

// Principal statuses.
const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusLocked    Status = "locked"
	StatusSuspended Status = "suspended"
	StatusInactive  Status = "inactive"
)

// Principal is an identity that can authenticate.
type Principal struct {
	ID                  string
	TenantID            *string
	Identity            string
	CredentialHash      string
	Kind                Kind
	Status              Status
	FailedAttemptCount  int
	LastAuthenticatedAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ErrTenantRequired is returned by Validate for tenant kinds without a tenant.
var ErrTenantRequired = errors.New("principals: tenant id required for tenant principals")

// Validate checks the tenant invariant.
func (p Principal) Validate() error {
	if !p.Kind.Valid() {
		return errors.New("principals: unknown kind")
	}
	if p.Kind != KindPlatformOperator && (p.TenantID == nil || *p.TenantID == "") {
		return ErrTenantRequired
	}
	return nil
}

// IsPlatformOperator reports whether the principal spans all tenants.
func (p Principal) IsPlatformOperator() bool {
	return p.Kind == KindPlatformOperator
}

// Tenant returns the principal's tenant id or "" for operators.
func (p Principal) Tenant() string {
	if p.TenantID == nil {
		return ""
	}
	return *p.TenantID
}

// Identity is the minimal authenticated view placed on request contexts.
type Identity struct {
	PrincipalID string
	TenantID    *string
	Kind        Kind
	DeviceID    string
	SessionID   string
}

// IsPlatformOperator reports whether the identity spans all tenants.
func (i Identity) IsPlatformOperator() bool {
	return i.Kind == KindPlatformOperator
}

// Tenant returns the identity's tenant id or "".
func (i Identity) Tenant() string {
	if i.TenantID == nil {
		return ""
	}
	return *i.TenantID
}

// IdentityOf projects a principal into its request identity.
func IdentityOf(p Principal) Identity {
	return Identity{PrincipalID: p.ID, TenantID: p.TenantID, Kind: p.Kind}
}
