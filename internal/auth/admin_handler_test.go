package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-auth/internal/lockout"
	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

func newAdminServer(t *testing.T) (*env, http.Handler) {
	t.Helper()
	e := newEnv(t, lockout.DefaultPolicy)
	e.addPrincipal(t, "alice-id", "alice", "correct horse", principals.KindTenantStaff, principals.StatusActive)
	e.addPrincipal(t, "admin-id", "admin", "correct horse", principals.KindTenantStaff, principals.StatusActive)
	e.addPrincipal(t, "viewer-id", "viewer", "correct horse", principals.KindTenantStaff, principals.StatusActive)
	other := "tenant-b"
	_, err := e.principals.Create(context.Background(), principals.Principal{
		ID: "bob-id", Identity: "bob", TenantID: &other, Kind: principals.KindTenantStaff, Status: principals.StatusActive,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	NewAdminHandler(nil, e.gateway, rbac.Middleware{Resolver: e.resolver}).MountRoutes(r)
	return e, r
}

func asCaller(h http.Handler, method, path, principalID string) *httptest.ResponseRecorder {
	tenant := "tenant-a"
	id := principals.Identity{PrincipalID: principalID, TenantID: &tenant, Kind: principals.KindTenantStaff}
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(principals.ContextWithIdentity(req.Context(), id))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func showPrincipal(t *testing.T, h http.Handler, principalID string) principalResponse {
	t.Helper()
	rec := asCaller(h, http.MethodGet, "/tenants/tenant-a/principals/"+principalID, "admin-id")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out principalResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestAdminUnlockClearsLockout(t *testing.T) {
	ctx := context.Background()
	e, h := newAdminServer(t)
	for i := 0; i < 5; i++ {
		_, err := e.gateway.LoginSession(ctx, creds("alice", "wrong"))
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}
	_, err := e.gateway.LoginSession(ctx, creds("alice", "correct horse"))
	require.ErrorIs(t, err, shared.ErrAccountLocked)

	locked := showPrincipal(t, h, "alice-id")
	assert.True(t, locked.Locked)
	assert.Positive(t, locked.RetryAfterSeconds)
	assert.Equal(t, "active", locked.Status)

	rec := asCaller(h, http.MethodPost, "/tenants/tenant-a/principals/alice-id/unlock", "admin-id")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, showPrincipal(t, h, "alice-id").Locked)

	_, err = e.gateway.LoginSession(ctx, creds("alice", "correct horse"))
	assert.NoError(t, err)
}

func TestAdminSuspendEndsEverySession(t *testing.T) {
	ctx := context.Background()
	e, h := newAdminServer(t)
	sess, err := e.gateway.LoginSession(ctx, creds("alice", "correct horse"))
	require.NoError(t, err)
	pair, err := e.gateway.LoginToken(ctx, creds("alice", "correct horse"), "")
	require.NoError(t, err)

	rec := asCaller(h, http.MethodPost, "/tenants/tenant-a/principals/alice-id/suspend", "admin-id")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, principals.StatusSuspended, e.principals.get("alice-id").Status)

	_, err = e.sessions.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, shared.ErrSessionExpired)
	_, err = e.gateway.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, shared.ErrTokenRevoked)
	_, err = e.gateway.LoginSession(ctx, creds("alice", "correct horse"))
	assert.ErrorIs(t, err, shared.ErrAccountSuspended)

	rec = asCaller(h, http.MethodPost, "/tenants/tenant-a/principals/alice-id/reactivate", "admin-id")
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, err = e.gateway.LoginSession(ctx, creds("alice", "correct horse"))
	assert.NoError(t, err)
}

func TestAdminRoutesRequirePermissions(t *testing.T) {
	e, h := newAdminServer(t)

	assert.Equal(t, http.StatusOK, asCaller(h, http.MethodGet, "/tenants/tenant-a/principals/alice-id", "viewer-id").Code)
	assert.Equal(t, http.StatusForbidden, asCaller(h, http.MethodPost, "/tenants/tenant-a/principals/alice-id/suspend", "viewer-id").Code)
	assert.Equal(t, http.StatusForbidden, asCaller(h, http.MethodGet, "/tenants/tenant-a/principals/admin-id", "alice-id").Code)
	assert.Equal(t, principals.StatusActive, e.principals.get("alice-id").Status)
}

func TestAdminRoutesStayInsideTenant(t *testing.T) {
	e, h := newAdminServer(t)

	cases := []struct {
		name, method, path string
	}{
		{"principal of another tenant", http.MethodPost, "/tenants/tenant-a/principals/bob-id/suspend"},
		{"another tenant", http.MethodPost, "/tenants/tenant-b/principals/bob-id/suspend"},
		{"unknown principal", http.MethodGet, "/tenants/tenant-a/principals/ghost"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, http.StatusNotFound, asCaller(h, tc.method, tc.path, "admin-id").Code)
		})
	}
	assert.Equal(t, principals.StatusActive, e.principals.get("bob-id").Status)
}
