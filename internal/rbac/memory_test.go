package rbac

import (
	"context"
	"errors"
	"sort"
	"sync"
)

type memoryRepo struct {
	mu          sync.Mutex
	permissions map[string]Permission
	roles       map[string]Role
	rolePerms   map[string][]string
	assignments map[Assignment]struct{}
	overrides   map[[3]string]bool
	direct      map[[3]string]Effect
	loads       int
	failLoad    bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		permissions: make(map[string]Permission),
		roles:       make(map[string]Role),
		rolePerms:   make(map[string][]string),
		assignments: make(map[Assignment]struct{}),
		overrides:   make(map[[3]string]bool),
		direct:      make(map[[3]string]Effect),
	}
}

func (m *memoryRepo) loadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

func (m *memoryRepo) LoadSnapshot(ctx context.Context, principalID, tenantID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.failLoad {
		return Snapshot{}, errors.New("database unavailable")
	}
	snap := Snapshot{
		RolePermissions: make(map[string][]string),
		Disabled:        make(map[string]struct{}),
		Direct:          make(map[string]Effect),
	}
	for a := range m.assignments {
		if a.PrincipalID == principalID && a.TenantID == tenantID {
			snap.RolePermissions[a.RoleCode] = append([]string(nil), m.rolePerms[a.RoleCode]...)
		}
	}
	for k, enabled := range m.overrides {
		if k[0] == tenantID && !enabled {
			snap.Disabled[overrideKey(k[1], k[2])] = struct{}{}
		}
	}
	for k, effect := range m.direct {
		if k[0] == principalID && k[1] == tenantID {
			snap.Direct[k[2]] = effect
		}
	}
	return snap, nil
}

func (m *memoryRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memoryRepo) ListRoles(ctx context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memoryRepo) UpsertPermission(ctx context.Context, p Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions[p.Code] = p
	return nil
}

func (m *memoryRepo) UpsertRole(ctx context.Context, r Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[r.Code] = r
	return nil
}

func (m *memoryRepo) ReplaceRolePermissions(ctx context.Context, roleCode string, codes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolePerms[roleCode] = append([]string(nil), codes...)
	return nil
}

func (m *memoryRepo) AssignRole(ctx context.Context, a Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a] = struct{}{}
	return nil
}

func (m *memoryRepo) RevokeRole(ctx context.Context, a Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assignments, a)
	return nil
}

func (m *memoryRepo) UpsertDirectGrant(ctx context.Context, g DirectGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.direct[[3]string{g.PrincipalID, g.TenantID, g.PermissionCode}] = g.Effect
	return nil
}

func (m *memoryRepo) DeleteDirectGrant(ctx context.Context, principalID, tenantID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.direct, [3]string{principalID, tenantID, code})
	return nil
}

func (m *memoryRepo) UpsertOverride(ctx context.Context, o Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[[3]string{o.TenantID, o.RoleCode, o.PermissionCode}] = o.Enabled
	return nil
}

func (m *memoryRepo) DeleteOverride(ctx context.Context, tenantID, roleCode, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, [3]string{tenantID, roleCode, code})
	return nil
}

var _ Repository = (*memoryRepo)(nil)
