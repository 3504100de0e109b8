package rbac

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/db"
)

// Repository persists roles, permissions, assignments, overrides and direct
// grants.
type Repository interface {
	LoadSnapshot(ctx context.Context, principalID, tenantID string) (Snapshot, error)

	ListPermissions(ctx context.Context) ([]Permission, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpsertPermission(ctx context.Context, p Permission) error
	UpsertRole(ctx context.Context, r Role) error
	ReplaceRolePermissions(ctx context.Context, roleCode string, codes []string) error

	AssignRole(ctx context.Context, a Assignment) error
	RevokeRole(ctx context.Context, a Assignment) error
	UpsertDirectGrant(ctx context.Context, g DirectGrant) error
	DeleteDirectGrant(ctx context.Context, principalID, tenantID, code string) error
	UpsertOverride(ctx context.Context, o Override) error
	DeleteOverride(ctx context.Context, tenantID, roleCode, code string) error
}

// Pool is the pgx surface the PostgreSQL repository needs.
type Pool interface {
	db.Querier
	db.TxStarter
}

// PGRepository implements Repository with pgx.
type PGRepository struct {
	pool Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// LoadSnapshot reads assignments, overrides and direct grants for one
// principal in one tenant.
func (r *PGRepository) LoadSnapshot(ctx context.Context, principalID, tenantID string) (Snapshot, error) {
	snap := Snapshot{
		RolePermissions: make(map[string][]string),
		Disabled:        make(map[string]struct{}),
		Direct:          make(map[string]Effect),
	}

	rows, err := r.pool.Query(ctx, `SELECT ra.role_code, rp.permission_code
		FROM role_assignments ra
		LEFT JOIN role_permissions rp ON rp.role_code = ra.role_code
		WHERE ra.principal_id = $1 AND ra.tenant_id = $2`, principalID, tenantID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("rbac: load role permissions: %w", err)
	}
	for rows.Next() {
		var role string
		var code *string
		if err := rows.Scan(&role, &code); err != nil {
			rows.Close()
			return Snapshot{}, fmt.Errorf("rbac: scan role permission: %w", err)
		}
		if code == nil {
			if _, ok := snap.RolePermissions[role]; !ok {
				snap.RolePermissions[role] = nil
			}
			continue
		}
		snap.RolePermissions[role] = append(snap.RolePermissions[role], *code)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("rbac: load role permissions: %w", err)
	}

	rows, err = r.pool.Query(ctx, `SELECT role_code, permission_code
		FROM tenant_role_overrides
		WHERE tenant_id = $1 AND enabled = FALSE`, tenantID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("rbac: load overrides: %w", err)
	}
	for rows.Next() {
		var role, code string
		if err := rows.Scan(&role, &code); err != nil {
			rows.Close()
			return Snapshot{}, fmt.Errorf("rbac: scan override: %w", err)
		}
		snap.Disabled[overrideKey(role, code)] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("rbac: load overrides: %w", err)
	}

	rows, err = r.pool.Query(ctx, `SELECT permission_code, effect
		FROM direct_grants
		WHERE principal_id = $1 AND tenant_id = $2`, principalID, tenantID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("rbac: load direct grants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		var effect Effect
		if err := rows.Scan(&code, &effect); err != nil {
			return Snapshot{}, fmt.Errorf("rbac: scan direct grant: %w", err)
		}
		snap.Direct[code] = effect
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("rbac: load direct grants: %w", err)
	}
	return snap, nil
}

// ListPermissions returns the permission catalogue ordered by code.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, module, description FROM permissions ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Code, &p.Module, &p.Description); err != nil {
			return nil, fmt.Errorf("rbac: scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ListRoles returns all roles ordered by code.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, name, is_system, created_at FROM roles ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.Code, &role.Name, &role.IsSystem, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("rbac: scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpsertPermission inserts or updates a catalogue entry.
func (r *PGRepository) UpsertPermission(ctx context.Context, p Permission) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO permissions (code, module, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET module = EXCLUDED.module, description = EXCLUDED.description`,
		p.Code, p.Module, p.Description)
	if err != nil {
		return fmt.Errorf("rbac: upsert permission: %w", err)
	}
	return nil
}

// UpsertRole inserts or renames a role.
func (r *PGRepository) UpsertRole(ctx context.Context, role Role) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO roles (code, name, is_system)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, is_system = EXCLUDED.is_system`,
		role.Code, role.Name, role.IsSystem)
	if err != nil {
		return fmt.Errorf("rbac: upsert role: %w", err)
	}
	return nil
}

// ReplaceRolePermissions swaps a role's default permission set atomically.
func (r *PGRepository) ReplaceRolePermissions(ctx context.Context, roleCode string, codes []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_code = $1`, roleCode); err != nil {
			return fmt.Errorf("rbac: clear role permissions: %w", err)
		}
		for _, code := range codes {
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_code, permission_code) VALUES ($1, $2)`, roleCode, code); err != nil {
				return fmt.Errorf("rbac: attach permission %s: %w", code, err)
			}
		}
		return nil
	})
}

// AssignRole is idempotent.
func (r *PGRepository) AssignRole(ctx context.Context, a Assignment) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO role_assignments (principal_id, role_code, tenant_id)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, a.PrincipalID, a.RoleCode, a.TenantID)
	if err != nil {
		return fmt.Errorf("rbac: assign role: %w", err)
	}
	return nil
}

// RevokeRole removes an assignment.
func (r *PGRepository) RevokeRole(ctx context.Context, a Assignment) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM role_assignments
		WHERE principal_id = $1 AND role_code = $2 AND tenant_id = $3`, a.PrincipalID, a.RoleCode, a.TenantID)
	if err != nil {
		return fmt.Errorf("rbac: revoke role: %w", err)
	}
	return nil
}

// UpsertDirectGrant sets the effect of a direct grant.
func (r *PGRepository) UpsertDirectGrant(ctx context.Context, g DirectGrant) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO direct_grants (principal_id, tenant_id, permission_code, effect)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal_id, tenant_id, permission_code) DO UPDATE SET effect = EXCLUDED.effect`,
		g.PrincipalID, g.TenantID, g.PermissionCode, string(g.Effect))
	if err != nil {
		return fmt.Errorf("rbac: upsert direct grant: %w", err)
	}
	return nil
}

// DeleteDirectGrant removes a direct grant.
func (r *PGRepository) DeleteDirectGrant(ctx context.Context, principalID, tenantID, code string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM direct_grants
		WHERE principal_id = $1 AND tenant_id = $2 AND permission_code = $3`, principalID, tenantID, code)
	if err != nil {
		return fmt.Errorf("rbac: delete direct grant: %w", err)
	}
	return nil
}

// UpsertOverride sets a tenant override.
func (r *PGRepository) UpsertOverride(ctx context.Context, o Override) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO tenant_role_overrides (tenant_id, role_code, permission_code, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, role_code, permission_code) DO UPDATE SET enabled = EXCLUDED.enabled`,
		o.TenantID, o.RoleCode, o.PermissionCode, o.Enabled)
	if err != nil {
		return fmt.Errorf("rbac: upsert override: %w", err)
	}
	return nil
}

// DeleteOverride removes a tenant override.
func (r *PGRepository) DeleteOverride(ctx context.Context, tenantID, roleCode, code string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM tenant_role_overrides
		WHERE tenant_id = $1 AND role_code = $2 AND permission_code = $3`, tenantID, roleCode, code)
	if err != nil {
		return fmt.Errorf("rbac: delete override: %w", err)
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
