package auth

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-auth/internal/lockout"
	"github.com/odyssey-erp/odyssey-auth/internal/password"
	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/sessions"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
	"github.com/odyssey-erp/odyssey-auth/internal/tenancy"
	"github.com/odyssey-erp/odyssey-auth/internal/tokens"
)

var fastParams = password.Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type memoryPrincipals struct {
	mu       sync.Mutex
	byID     map[string]*principals.Principal
	failures map[string]int
}

func newMemoryPrincipals() *memoryPrincipals {
	return &memoryPrincipals{byID: make(map[string]*principals.Principal), failures: make(map[string]int)}
}

func (m *memoryPrincipals) get(id string) principals.Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

func (m *memoryPrincipals) FindByIdentity(ctx context.Context, identity string) (*principals.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.Identity == identity {
			cp := *p
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memoryPrincipals) FindByID(ctx context.Context, id string) (*principals.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memoryPrincipals) Create(ctx context.Context, p principals.Principal) (*principals.Principal, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Identity = shared.CanonicalIdentity(p.Identity)
	cp := p
	m.byID[p.ID] = &cp
	return &p, nil
}

func (m *memoryPrincipals) UpdateCredentialHash(ctx context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].CredentialHash = hash
	return nil
}

func (m *memoryPrincipals) MarkAuthenticated(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].LastAuthenticatedAt = &at
	m.byID[id].FailedAttemptCount = 0
	return nil
}

func (m *memoryPrincipals) RecordFailure(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].FailedAttemptCount++
	return nil
}

func (m *memoryPrincipals) SetStatus(ctx context.Context, id string, status principals.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].Status = status
	return nil
}

type memoryTokens struct {
	mu      sync.Mutex
	records map[string]tokens.Record
}

func (m *memoryTokens) Persist(ctx context.Context, rec tokens.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.JTI] = rec
	return nil
}

func (m *memoryTokens) IsRevoked(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[jti]
	return !ok || rec.Revoked, nil
}

func (m *memoryTokens) Lookup(ctx context.Context, jti string) (tokens.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[jti]
	if !ok {
		return tokens.Record{}, shared.ErrNotFound
	}
	return rec, nil
}

func (m *memoryTokens) Revoke(ctx context.Context, jti string) error {
	return m.update(func(r tokens.Record) bool { return r.JTI == jti })
}

func (m *memoryTokens) Rotate(ctx context.Context, oldJTI string, next tokens.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[oldJTI]
	if !ok || rec.Revoked {
		return shared.ErrTokenRevoked
	}
	rec.Revoked = true
	at := next.CreatedAt
	rec.RevokedAt = &at
	rec.ReplacedBy = next.JTI
	m.records[oldJTI] = rec
	m.records[next.JTI] = next
	return nil
}

func (m *memoryTokens) RevokeFamily(ctx context.Context, familyID string) error {
	return m.update(func(r tokens.Record) bool { return r.FamilyID == familyID })
}

func (m *memoryTokens) RevokeAllForPrincipal(ctx context.Context, principalID string) error {
	return m.update(func(r tokens.Record) bool { return r.PrincipalID == principalID })
}

func (m *memoryTokens) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *memoryTokens) update(match func(tokens.Record) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for jti, rec := range m.records {
		if match(rec) && !rec.Revoked {
			rec.Revoked = true
			m.records[jti] = rec
		}
	}
	return nil
}

type memoryAttempts struct {
	mu       sync.Mutex
	attempts []lockout.Attempt
}

func (m *memoryAttempts) Append(ctx context.Context, a lockout.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memoryAttempts) Prune(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (m *memoryAttempts) reasons() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.attempts))
	for _, a := range m.attempts {
		out = append(out, a.FailureReason)
	}
	return out
}

// stubCatalogue serves permission lookups for /me. Unused repository methods
// panic through the nil embedded interface.
type stubCatalogue struct {
	rbac.Repository
	grants map[string][]string
}

func (s stubCatalogue) LoadSnapshot(ctx context.Context, principalID, tenantID string) (rbac.Snapshot, error) {
	return rbac.Snapshot{RolePermissions: map[string][]string{"member": s.grants[principalID]}}, nil
}

func (s stubCatalogue) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	var out []rbac.Permission
	for _, codes := range s.grants {
		for _, c := range codes {
			out = append(out, rbac.Permission{Code: c})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

type countingObserver struct {
	mu       sync.Mutex
	failures map[string]int
	logins   map[string]int
}

func (o *countingObserver) ObserveAuthFailure(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[reason]++
}

func (o *countingObserver) ObserveLogin(mode string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logins[mode]++
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type env struct {
	mr         *miniredis.Miniredis
	clock      *manualClock
	guard      *lockout.Guard
	principals *memoryPrincipals
	tokenStore *memoryTokens
	attempts   *memoryAttempts
	hasher     *password.Hasher
	tokens     *tokens.Service
	sessions   *sessions.Manager
	gateway    *Gateway
	resolver   *rbac.Resolver
	observer   *countingObserver
}

func newEnv(t *testing.T, policy lockout.Policy) *env {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hasher, err := password.NewHasher("pepper", fastParams, 2)
	require.NoError(t, err)

	e := &env{
		mr:         mr,
		clock:      &manualClock{now: time.Now().UTC()},
		principals: newMemoryPrincipals(),
		tokenStore: &memoryTokens{records: make(map[string]tokens.Record)},
		attempts:   &memoryAttempts{},
		hasher:     hasher,
		observer:   &countingObserver{failures: map[string]int{}, logins: map[string]int{}},
	}
	e.tokens, err = tokens.NewService([]byte("0123456789abcdef0123456789abcdef"), e.tokenStore, tokens.WithClock(e.clock.Now))
	require.NoError(t, err)
	e.sessions, err = sessions.NewManager(client, "test", []byte("session-secret"))
	require.NoError(t, err)
	e.guard = lockout.NewGuard(client, "test", policy, lockout.WithAttemptLog(e.attempts))
	e.gateway, err = NewGateway(ctx, e.principals, hasher, e.guard, e.tokens, e.sessions, WithObserver(e.observer))
	require.NoError(t, err)
	e.resolver = rbac.NewResolver(stubCatalogue{grants: map[string][]string{
		"alice-id":  {"SALE_VIEW"},
		"admin-id":  {PermissionPrincipalView, PermissionPrincipalManage},
		"viewer-id": {PermissionPrincipalView},
	}}, tenancy.NewGuard(nil))
	return e
}

func (e *env) addPrincipal(t *testing.T, id, identity, secret string, kind principals.Kind, status principals.Status) {
	t.Helper()
	hash, err := e.hasher.Hash(context.Background(), secret)
	require.NoError(t, err)
	p := principals.Principal{ID: id, Identity: identity, CredentialHash: hash, Kind: kind, Status: status}
	if kind != principals.KindPlatformOperator {
		tenant := "tenant-a"
		p.TenantID = &tenant
	}
	_, err = e.principals.Create(context.Background(), p)
	require.NoError(t, err)
}
