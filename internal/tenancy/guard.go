// Package tenancy enforces that tenant-scoped operations stay inside the
// caller's tenant.
package tenancy

import (
	"log/slog"

	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// Scoped is anything carrying a tenant scope, such as principals.Principal
// or principals.Identity.
type Scoped interface {
	IsPlatformOperator() bool
	Tenant() string
}

// Guard is the choke point for tenant scoping.
type Guard struct {
	logger *slog.Logger
}

// NewGuard constructs a Guard. logger may be nil.
func NewGuard(logger *slog.Logger) *Guard {
	return &Guard{logger: logger}
}

// AssertScope fails with shared.ErrCrossTenant unless the caller is a
// platform operator or belongs to requestedTenantID.
func (g *Guard) AssertScope(caller Scoped, requestedTenantID string) error {
	if caller == nil {
		return shared.ErrCrossTenant
	}
	if caller.IsPlatformOperator() {
		return nil
	}
	own := caller.Tenant()
	if own != "" && requestedTenantID != "" && own == requestedTenantID {
		return nil
	}
	if g != nil && g.logger != nil {
		g.logger.Warn("cross tenant access denied",
			slog.String("caller_tenant", own),
			slog.String("requested_tenant", requestedTenantID))
	}
	return shared.ErrCrossTenant
}

// Filter returns the tenant id downstream queries must filter on and false
// when the caller is an operator allowed to see every tenant. A nil caller
// is scoped to the empty tenant and so matches nothing.
func (g *Guard) Filter(caller Scoped) (string, bool) {
	if caller == nil {
		return "", true
	}
	if caller.IsPlatformOperator() {
		return "", false
	}
	return caller.Tenant(), true
}
