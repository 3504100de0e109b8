package rbac

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Service administers roles, assignments, overrides and direct grants. Every
// mutation writes through the repository and then invalidates the affected
// cache entries.
type Service struct {
	repo    Repository
	cache   *Cache
	logger  *slog.Logger
	timeout time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMutationTimeout bounds each operation, covering the repository write
// and the cache invalidation that follows it.
func WithMutationTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService constructs a Service. cache may be nil.
func NewService(repo Repository, cache *Cache, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, cache: cache, logger: logger, timeout: 3 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPermissions returns the permission catalogue.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.repo.ListPermissions(ctx)
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.repo.ListRoles(ctx)
}

// EnsurePermission registers a permission in the catalogue.
func (s *Service) EnsurePermission(ctx context.Context, code, module, description string) (Permission, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	normalized, err := NormalizeCode(code)
	if err != nil {
		return Permission{}, err
	}
	p := Permission{
		Code:        normalized,
		Module:      strings.TrimSpace(module),
		Description: strings.TrimSpace(description),
	}
	if p.Module == "" {
		p.Module = strings.ToLower(normalized[:strings.IndexByte(normalized, '_')])
	}
	if err := s.repo.UpsertPermission(ctx, p); err != nil {
		return Permission{}, err
	}
	return p, nil
}

// EnsureRole registers a role.
func (s *Service) EnsureRole(ctx context.Context, code, name string, system bool) (Role, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	normalized, err := normalizeRole(code)
	if err != nil {
		return Role{}, err
	}
	role := Role{Code: normalized, Name: strings.TrimSpace(name), IsSystem: system}
	if role.Name == "" {
		role.Name = normalized
	}
	if err := s.repo.UpsertRole(ctx, role); err != nil {
		return Role{}, err
	}
	return role, nil
}

// SetRolePermissions replaces a role's default set. Affects every tenant.
func (s *Service) SetRolePermissions(ctx context.Context, roleCode string, codes []string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	role, err := normalizeRole(roleCode)
	if err != nil {
		return err
	}
	normalized, err := normalizeCodes(codes)
	if err != nil {
		return err
	}
	if err := s.repo.ReplaceRolePermissions(ctx, role, normalized); err != nil {
		return err
	}
	return s.invalidate(ctx, "role_permissions", func(c *Cache) error { return c.BumpGlobal(ctx) })
}

// AssignRole gives a principal a role within a tenant.
func (s *Service) AssignRole(ctx context.Context, a Assignment) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	a, err := validAssignment(a)
	if err != nil {
		return err
	}
	if err := s.repo.AssignRole(ctx, a); err != nil {
		return err
	}
	return s.invalidatePrincipal(ctx, a.PrincipalID, a.TenantID)
}

// RevokeRole removes a role assignment.
func (s *Service) RevokeRole(ctx context.Context, a Assignment) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	a, err := validAssignment(a)
	if err != nil {
		return err
	}
	if err := s.repo.RevokeRole(ctx, a); err != nil {
		return err
	}
	return s.invalidatePrincipal(ctx, a.PrincipalID, a.TenantID)
}

// SetDirectGrant records a direct grant or deny.
func (s *Service) SetDirectGrant(ctx context.Context, g DirectGrant) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	code, err := NormalizeCode(g.PermissionCode)
	if err != nil {
		return err
	}
	if !g.Effect.Valid() {
		return ErrInvalidEffect
	}
	if g.PrincipalID == "" || g.TenantID == "" {
		return ErrMissingScope
	}
	g.PermissionCode = code
	if err := s.repo.UpsertDirectGrant(ctx, g); err != nil {
		return err
	}
	return s.invalidatePrincipal(ctx, g.PrincipalID, g.TenantID)
}

// ClearDirectGrant removes a direct grant.
func (s *Service) ClearDirectGrant(ctx context.Context, principalID, tenantID, code string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	normalized, err := NormalizeCode(code)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteDirectGrant(ctx, principalID, tenantID, normalized); err != nil {
		return err
	}
	return s.invalidatePrincipal(ctx, principalID, tenantID)
}

// SetTenantOverride enables or disables a role permission inside a tenant.
func (s *Service) SetTenantOverride(ctx context.Context, o Override) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	code, err := NormalizeCode(o.PermissionCode)
	if err != nil {
		return err
	}
	role, err := normalizeRole(o.RoleCode)
	if err != nil {
		return err
	}
	if o.TenantID == "" {
		return ErrMissingScope
	}
	o.PermissionCode, o.RoleCode = code, role
	if err := s.repo.UpsertOverride(ctx, o); err != nil {
		return err
	}
	return s.invalidate(ctx, "tenant_override", func(c *Cache) error { return c.BumpTenant(ctx, o.TenantID) })
}

// ClearTenantOverride restores the role default inside a tenant.
func (s *Service) ClearTenantOverride(ctx context.Context, tenantID, roleCode, code string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	normalized, err := NormalizeCode(code)
	if err != nil {
		return err
	}
	role, err := normalizeRole(roleCode)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteOverride(ctx, tenantID, role, normalized); err != nil {
		return err
	}
	return s.invalidate(ctx, "tenant_override", func(c *Cache) error { return c.BumpTenant(ctx, tenantID) })
}

func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) invalidatePrincipal(ctx context.Context, principalID, tenantID string) error {
	return s.invalidate(ctx, "principal", func(c *Cache) error {
		return c.InvalidatePrincipal(ctx, principalID, tenantID)
	})
}

// invalidate reports cache errors after the write has committed. Cached
// decisions may then lag until the TTL passes.
func (s *Service) invalidate(ctx context.Context, scope string, fn func(*Cache) error) error {
	if s.cache == nil {
		return nil
	}
	if err := fn(s.cache); err != nil {
		s.logger.Error("permission cache invalidation failed", slog.String("scope", scope), slog.Any("error", err))
		return err
	}
	return nil
}

func validAssignment(a Assignment) (Assignment, error) {
	role, err := normalizeRole(a.RoleCode)
	if err != nil {
		return Assignment{}, err
	}
	if a.PrincipalID == "" || a.TenantID == "" {
		return Assignment{}, ErrMissingScope
	}
	a.RoleCode = role
	return a, nil
}

func normalizeCodes(codes []string) ([]string, error) {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, raw := range codes {
		code, err := NormalizeCode(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out, nil
}
