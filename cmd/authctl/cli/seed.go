package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// CatalogPermission is one entry of the built-in permission catalogue.
type CatalogPermission struct {
	Code        string
	Description string
}

// CatalogRole is a built-in role and its default permission set.
type CatalogRole struct {
	Code        string
	Name        string
	Permissions []string
}

// DefaultPermissions are the permissions this service itself checks.
var DefaultPermissions = []CatalogPermission{
	{Code: "RBAC_VIEW", Description: "View roles and the permission catalogue"},
	{Code: "RBAC_MANAGE", Description: "Manage role assignments, overrides and direct grants"},
	{Code: "PRINCIPAL_VIEW", Description: "View principals of the tenant"},
	{Code: "PRINCIPAL_MANAGE", Description: "Suspend and reactivate principals"},
	{Code: "AUTH_JOBS_VIEW", Description: "Inspect the maintenance job queue"},
}

// DefaultRoles are seeded as system roles.
var DefaultRoles = []CatalogRole{
	{Code: "tenant_admin", Name: "Tenant administrator", Permissions: []string{"RBAC_VIEW", "RBAC_MANAGE", "PRINCIPAL_VIEW", "PRINCIPAL_MANAGE"}},
	{Code: "auditor", Name: "Auditor", Permissions: []string{"RBAC_VIEW", "PRINCIPAL_VIEW"}},
}

// Hasher derives credential hashes for seeded principals.
type Hasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
}

// Seeder loads the built-in catalogue and bootstraps an operator.
type Seeder struct {
	RBAC       *rbac.Service
	Principals principals.Repository
	Hasher     Hasher
}

// SeedReport summarises a seed run.
type SeedReport struct {
	Permissions     int
	Roles           int
	OperatorID      string
	OperatorCreated bool
}

// SeedCatalog upserts DefaultPermissions and DefaultRoles. Re-running it is
// safe.
func (s *Seeder) SeedCatalog(ctx context.Context) (SeedReport, error) {
	var report SeedReport
	for _, p := range DefaultPermissions {
		if _, err := s.RBAC.EnsurePermission(ctx, p.Code, "", p.Description); err != nil {
			return report, fmt.Errorf("seed permission %s: %w", p.Code, err)
		}
		report.Permissions++
	}
	for _, r := range DefaultRoles {
		if _, err := s.RBAC.EnsureRole(ctx, r.Code, r.Name, true); err != nil {
			return report, fmt.Errorf("seed role %s: %w", r.Code, err)
		}
		if err := s.RBAC.SetRolePermissions(ctx, r.Code, r.Permissions); err != nil {
			return report, fmt.Errorf("seed role %s permissions: %w", r.Code, err)
		}
		report.Roles++
	}
	return report, nil
}

// EnsureOperator creates a platform operator unless the identity exists.
func (s *Seeder) EnsureOperator(ctx context.Context, identity, secret string) (string, bool, error) {
	if identity == "" || secret == "" {
		return "", false, errors.New("operator identity and secret required")
	}
	existing, err := s.Principals.FindByIdentity(ctx, shared.CanonicalIdentity(identity))
	switch {
	case err == nil:
		if !existing.IsPlatformOperator() {
			return "", false, fmt.Errorf("identity %s belongs to a tenant principal", existing.Identity)
		}
		return existing.ID, false, nil
	case !errors.Is(err, shared.ErrNotFound):
		return "", false, err
	}
	hash, err := s.Hasher.Hash(ctx, secret)
	if err != nil {
		return "", false, err
	}
	created, err := s.Principals.Create(ctx, principals.Principal{
		Identity:       identity,
		CredentialHash: hash,
		Kind:           principals.KindPlatformOperator,
		Status:         principals.StatusActive,
	})
	if err != nil {
		return "", false, err
	}
	return created.ID, true, nil
}
