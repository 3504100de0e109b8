package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
	testenv "github.com/odyssey-erp/odyssey-auth/testing"
)

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

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis, *manualClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	clock := &manualClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	mgr, err := NewManager(client, "test", []byte("session-secret"), WithClock(clock.Now))
	require.NoError(t, err)
	return mgr, mr, clock
}

func staff() principals.Principal {
	tenant := "tenant-a"
	return principals.Principal{ID: "user-1", TenantID: &tenant, Kind: principals.KindTenantStaff, Status: principals.StatusActive}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager(nil, "test", nil)
	require.Error(t, err)
}

func TestCreateMintsFreshIdentifiers(t *testing.T) {
	ctx := context.Background()
	mgr, mr, _ := newTestManager(t)

	first, err := mgr.Create(ctx, staff())
	require.NoError(t, err)
	second, err := mgr.Create(ctx, staff())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, first.ID, 43)
	assert.NotEmpty(t, first.AntiForgeryToken)
	assert.NotEqual(t, first.AntiForgeryToken, second.AntiForgeryToken)
	assert.True(t, mr.Exists("test:session:"+first.ID))

	members, err := mr.Members("test:session:principal:user-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, members)
}

func TestTouchRefreshesActivity(t *testing.T) {
	ctx := context.Background()
	mgr, _, clock := newTestManager(t)
	sess, err := mgr.Create(ctx, staff())
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	touched, err := mgr.Touch(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), touched.LastActivityAt)

	clock.Advance(20 * time.Minute)
	_, err = mgr.Touch(ctx, sess.ID)
	require.NoError(t, err)

	id := touched.Identity()
	assert.Equal(t, "user-1", id.PrincipalID)
	assert.Equal(t, sess.ID, id.SessionID)
	assert.Equal(t, "tenant-a", id.Tenant())
}

func TestTouchExpiresIdleSession(t *testing.T) {
	ctx := context.Background()
	mgr, mr, clock := newTestManager(t)
	sess, err := mgr.Create(ctx, staff())
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	_, err = mgr.Touch(ctx, sess.ID)
	require.ErrorIs(t, err, shared.ErrSessionExpired)
	assert.False(t, mr.Exists("test:session:"+sess.ID))

	_, err = mgr.Touch(ctx, sess.ID)
	require.ErrorIs(t, err, shared.ErrSessionExpired)
}

func TestTouchEnforcesMaxLifetime(t *testing.T) {
	ctx := context.Background()
	mgr, _, clock := newTestManager(t)
	sess, err := mgr.Create(ctx, staff())
	require.NoError(t, err)

	for elapsed := time.Duration(0); elapsed < 12*time.Hour; elapsed += 25 * time.Minute {
		clock.Advance(25 * time.Minute)
		if _, err = mgr.Touch(ctx, sess.ID); err != nil {
			break
		}
	}
	require.ErrorIs(t, err, shared.ErrSessionExpired)
}

func TestRedisExpiryEndsSession(t *testing.T) {
	ctx := context.Background()
	mgr, mr, _ := newTestManager(t)
	sess, err := mgr.Create(ctx, staff())
	require.NoError(t, err)

	mr.FastForward(31 * time.Minute)
	_, err = mgr.Touch(ctx, sess.ID)
	require.ErrorIs(t, err, shared.ErrSessionExpired)
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)
	sess, err := mgr.Create(ctx, staff())
	require.NoError(t, err)

	require.NoError(t, mgr.Destroy(ctx, sess.ID))
	_, err = mgr.Touch(ctx, sess.ID)
	require.ErrorIs(t, err, shared.ErrSessionExpired)

	require.NoError(t, mgr.Destroy(ctx, sess.ID))
	require.NoError(t, mgr.Destroy(ctx, ""))
}

func TestDestroyAllForPrincipal(t *testing.T) {
	ctx := context.Background()
	mgr, mr, _ := newTestManager(t)
	a, err := mgr.Create(ctx, staff())
	require.NoError(t, err)
	b, err := mgr.Create(ctx, staff())
	require.NoError(t, err)
	otherTenant := "tenant-b"
	other, err := mgr.Create(ctx, principals.Principal{ID: "user-2", TenantID: &otherTenant, Kind: principals.KindTenantMember})
	require.NoError(t, err)

	require.NoError(t, mgr.DestroyAllForPrincipal(ctx, "user-1"))
	for _, id := range []string{a.ID, b.ID} {
		_, err = mgr.Touch(ctx, id)
		require.ErrorIs(t, err, shared.ErrSessionExpired)
	}
	assert.False(t, mr.Exists("test:session:principal:user-1"))

	_, err = mgr.Touch(ctx, other.ID)
	require.NoError(t, err)
}

func TestVerifyAntiForgery(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)
	sess, err := mgr.Create(ctx, staff())
	require.NoError(t, err)

	require.NoError(t, mgr.VerifyAntiForgery(sess, sess.AntiForgeryToken))
	require.ErrorIs(t, mgr.VerifyAntiForgery(sess, ""), shared.ErrCSRFTokenMissing)
	require.ErrorIs(t, mgr.VerifyAntiForgery(nil, "x"), shared.ErrCSRFTokenMissing)
	require.ErrorIs(t, mgr.VerifyAntiForgery(sess, "forged"), shared.ErrCSRFTokenMismatch)
}

func TestStoreFailureIsNotReportedAsExpiry(t *testing.T) {
	ctx := context.Background()
	mgr, mr, _ := newTestManager(t)
	sess, err := mgr.Create(ctx, staff())
	require.NoError(t, err)

	mr.Close()
	_, err = mgr.Touch(ctx, sess.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrSessionExpired)
}

func TestTouchLosingToDestroyReportsExpiry(t *testing.T) {
	ctx := context.Background()
	mgr, mr, clock := newTestManager(t)
	sess, err := mgr.Create(ctx, staff())
	require.NoError(t, err)

	loaded, err := mgr.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, mgr.Destroy(ctx, sess.ID))

	_, err = mgr.extend(ctx, loaded, clock.Now())
	require.ErrorIs(t, err, shared.ErrSessionExpired)
	assert.False(t, mr.Exists("test:session:"+sess.ID), "a late touch must not resurrect the session")
}

func TestStalledStoreFailsWithinTimeout(t *testing.T) {
	mgr, err := NewManager(testenv.StalledRedis(t), "test", []byte("session-secret"),
		WithStoreTimeout(50*time.Millisecond))
	require.NoError(t, err)

	began := time.Now()
	_, err = mgr.Touch(context.Background(), "some-session")
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrSessionExpired)
	assert.Less(t, time.Since(began), 2*time.Second)
}
