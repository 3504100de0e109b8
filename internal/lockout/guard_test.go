package lockout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-auth/internal/shared"
	testenv "github.com/odyssey-erp/odyssey-auth/testing"
)

type memoryAttemptLog struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (m *memoryAttemptLog) Append(ctx context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memoryAttemptLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.attempts[:0]
	var removed int64
	for _, a := range m.attempts {
		if a.At.Before(before) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.attempts = kept
	return removed, nil
}

func newTestGuard(t *testing.T, policy Policy) (*Guard, *miniredis.Miniredis, *memoryAttemptLog) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	log := &memoryAttemptLog{}
	return NewGuard(client, "test", policy, WithAttemptLog(log)), mr, log
}

// fail reserves and settles one failed attempt.
func fail(t *testing.T, guard *Guard, identity, source, reason string) {
	t.Helper()
	require.NoError(t, guard.Reserve(context.Background(), identity, source))
	require.NoError(t, guard.RecordAttempt(context.Background(), identity, source, false, reason))
}

func TestLockoutAfterThreshold(t *testing.T) {
	ctx := context.Background()
	guard, mr, log := newTestGuard(t, DefaultPolicy)

	for i := 0; i < 5; i++ {
		fail(t, guard, "alice", "10.0.0.1", ReasonBadSecret)
	}
	assert.ErrorIs(t, guard.Reserve(ctx, "alice", "10.0.0.1"), shared.ErrAccountLocked)
	locked, err := guard.IsLocked(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, locked)

	retry, err := guard.RetryAfter(ctx, "alice")
	require.NoError(t, err)
	assert.Greater(t, retry, 14*time.Minute)

	mr.FastForward(15*time.Minute + time.Second)
	assert.NoError(t, guard.Reserve(ctx, "alice", "10.0.0.1"))
	assert.Len(t, log.attempts, 5)
}

func TestLockedAttemptsDoNotExtendWindow(t *testing.T) {
	ctx := context.Background()
	guard, mr, _ := newTestGuard(t, DefaultPolicy)
	for i := 0; i < 5; i++ {
		fail(t, guard, "alice", "", ReasonBadSecret)
	}
	mr.FastForward(10 * time.Minute)
	require.ErrorIs(t, guard.Reserve(ctx, "alice", ""), shared.ErrAccountLocked)
	mr.FastForward(5*time.Minute + time.Second)
	locked, err := guard.IsLocked(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestSuccessResetsIdentityCounter(t *testing.T) {
	ctx := context.Background()
	guard, mr, log := newTestGuard(t, DefaultPolicy)
	for i := 0; i < 4; i++ {
		fail(t, guard, "bob", "10.0.0.2", ReasonBadSecret)
	}
	require.NoError(t, guard.Reserve(ctx, "bob", "10.0.0.2"))
	require.NoError(t, guard.RecordAttempt(ctx, "bob", "10.0.0.2", true, ""))
	assert.False(t, mr.Exists("test:lockout:id:bob"))
	src, err := mr.Get("test:lockout:src:10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, "4", src, "a success returns its source slot")

	fail(t, guard, "bob", "10.0.0.2", ReasonBadSecret)
	locked, err := guard.IsLocked(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, locked)
	assert.True(t, log.attempts[4].Success)
}

func TestReleaseReturnsSlots(t *testing.T) {
	ctx := context.Background()
	guard, mr, log := newTestGuard(t, DefaultPolicy)
	require.NoError(t, guard.Reserve(ctx, "dave", "10.0.0.4"))
	require.NoError(t, guard.Release(ctx, "dave", "10.0.0.4"))
	assert.False(t, mr.Exists("test:lockout:id:dave"))
	assert.False(t, mr.Exists("test:lockout:src:10.0.0.4"))
	assert.Empty(t, log.attempts)
}

func TestSourceThrottleIndependentOfIdentity(t *testing.T) {
	ctx := context.Background()
	guard, _, _ := newTestGuard(t, Policy{IdentityThreshold: 5, IdentityWindow: time.Minute, SourceThreshold: 3, SourceWindow: time.Minute})
	for _, id := range []string{"a", "b", "c"} {
		fail(t, guard, id, "203.0.113.9", ReasonUnknownIdentity)
	}
	assert.ErrorIs(t, guard.Reserve(ctx, "d", "203.0.113.9"), shared.ErrRateLimited)
	assert.NoError(t, guard.Reserve(ctx, "d", "203.0.113.10"))
}

func TestConcurrentReservationsStopAtThreshold(t *testing.T) {
	ctx := context.Background()
	guard, mr, _ := newTestGuard(t, DefaultPolicy)

	const callers = 40
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		mu      sync.Mutex
		granted int
		locked  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := guard.Reserve(ctx, "carol", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, shared.ErrAccountLocked):
				locked++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int(DefaultPolicy.IdentityThreshold), granted)
	assert.Equal(t, callers-int(DefaultPolicy.IdentityThreshold), locked)
	value, err := mr.Get("test:lockout:id:carol")
	require.NoError(t, err)
	assert.Equal(t, "5", value)
	assert.Greater(t, mr.TTL("test:lockout:id:carol"), time.Duration(0))
}

func TestUnlockClearsIdentity(t *testing.T) {
	ctx := context.Background()
	guard, _, _ := newTestGuard(t, DefaultPolicy)
	for i := 0; i < 5; i++ {
		fail(t, guard, "erin", "", ReasonBadSecret)
	}
	require.NoError(t, guard.Unlock(ctx, "erin"))
	retry, err := guard.RetryAfter(ctx, "erin")
	require.NoError(t, err)
	assert.Zero(t, retry)
	assert.NoError(t, guard.Reserve(ctx, "erin", ""))
}

func TestStoreFailureFailsClosed(t *testing.T) {
	guard, mr, _ := newTestGuard(t, DefaultPolicy)
	mr.Close()
	err := guard.Reserve(context.Background(), "alice", "10.0.0.1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrAccountLocked)
}

func TestStalledStoreFailsWithinTimeout(t *testing.T) {
	client := testenv.StalledRedis(t)
	guard := NewGuard(client, "test", DefaultPolicy, WithStoreTimeout(50*time.Millisecond))

	start := time.Now()
	err := guard.Reserve(context.Background(), "alice", "10.0.0.1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrAccountLocked)
	assert.Less(t, time.Since(start), 2*time.Second)
}
