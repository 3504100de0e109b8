package lockout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// reserveAttempt claims one attempt slot against the source and identity
// counters in a single step. It returns -1 when the source is throttled, -2
// when the identity is locked and otherwise the identity count including
// this attempt. A locked identity still costs the source a slot but never
// extends its own window.
//
// KEYS: source counter, identity counter.
// ARGV: source threshold (0 skips the source), source window ms, identity
// threshold, identity window ms.
var reserveAttempt = redis.NewScript(`
local function bump(key, window)
	local n = redis.call('INCR', key)
	if n == 1 then
		redis.call('PEXPIRE', key, window)
	end
	return n
end
local srcLimit = tonumber(ARGV[1])
if srcLimit > 0 then
	if tonumber(redis.call('GET', KEYS[1]) or '0') >= srcLimit then
		return -1
	end
	bump(KEYS[1], ARGV[2])
end
if tonumber(redis.call('GET', KEYS[2]) or '0') >= tonumber(ARGV[3]) then
	return -2
end
return bump(KEYS[2], ARGV[4])
`)

// releaseSlots gives back one slot on every counter in KEYS.
var releaseSlots = redis.NewScript(`
for _, key in ipairs(KEYS) do
	local n = tonumber(redis.call('GET', key) or '0')
	if n > 1 then
		redis.call('DECR', key)
	elseif n == 1 then
		redis.call('DEL', key)
	end
end
return 0
`)

const defaultStoreTimeout = 3 * time.Second

// Guard tracks failed attempts per identity and per source address.
type Guard struct {
	client *redis.Client
	keys   cache.Keyspace
	policy Policy
	log    AttemptLog
	clock  shared.Clock
	logger *slog.Logger

	storeTimeout time.Duration
}

// Option configures a Guard.
type Option func(*Guard)

// WithAttemptLog appends every attempt to the audit log.
func WithAttemptLog(log AttemptLog) Option {
	return func(g *Guard) { g.log = log }
}

// WithClock overrides the time source used for audit rows.
func WithClock(clock shared.Clock) Option {
	return func(g *Guard) { g.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// WithStoreTimeout bounds each Redis and attempt log call.
func WithStoreTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.storeTimeout = d
		}
	}
}

// NewGuard constructs a Guard storing counters under namespace.
func NewGuard(client *redis.Client, namespace string, policy Policy, opts ...Option) *Guard {
	if policy.IdentityThreshold <= 0 {
		policy.IdentityThreshold = DefaultPolicy.IdentityThreshold
	}
	if policy.IdentityWindow <= 0 {
		policy.IdentityWindow = DefaultPolicy.IdentityWindow
	}
	if policy.SourceThreshold <= 0 {
		policy.SourceThreshold = DefaultPolicy.SourceThreshold
	}
	if policy.SourceWindow <= 0 {
		policy.SourceWindow = DefaultPolicy.SourceWindow
	}
	g := &Guard{
		client: client,
		keys:   cache.Keyspace(namespace),
		policy: policy,
		logger: slog.Default(),

		storeTimeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Reserve claims an attempt slot before credentials are checked. Counters
// are incremented up front so concurrent guesses cannot all observe a count
// below the threshold. It returns shared.ErrRateLimited or
// shared.ErrAccountLocked when no slot is left. A reserved attempt is settled
// with RecordAttempt, or handed back with Release when no verdict was reached.
func (g *Guard) Reserve(ctx context.Context, identity, source string) error {
	if identity == "" {
		return errors.New("lockout: reserve: identity required")
	}
	var srcLimit int64
	if source != "" {
		srcLimit = g.policy.SourceThreshold
	}
	ctx, cancel := g.bounded(ctx)
	defer cancel()
	res, err := reserveAttempt.Run(ctx, g.client,
		[]string{g.sourceKey(source), g.identityKey(identity)},
		srcLimit, g.policy.SourceWindow.Milliseconds(),
		g.policy.IdentityThreshold, g.policy.IdentityWindow.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("lockout: reserve: %w", err)
	}
	switch {
	case res == -1:
		return shared.ErrRateLimited
	case res == -2:
		return shared.ErrAccountLocked
	case res == g.policy.IdentityThreshold:
		g.logger.Warn("identity reached failure threshold",
			slog.String("identity", identity),
			slog.Duration("window", g.policy.IdentityWindow))
	}
	return nil
}

// Release hands back a slot claimed by Reserve.
func (g *Guard) Release(ctx context.Context, identity, source string) error {
	keys := []string{g.identityKey(identity)}
	if source != "" {
		keys = append(keys, g.sourceKey(source))
	}
	return g.release(ctx, keys...)
}

// RecordAttempt settles a reserved attempt and appends it to the audit log.
// Success clears the identity counter and returns the source slot. A failure
// keeps both slots, so the counters already reflect it.
func (g *Guard) RecordAttempt(ctx context.Context, identity, source string, success bool, reason string) error {
	var err error
	if success {
		err = g.reset(ctx, identity)
		if source != "" {
			err = errors.Join(err, g.release(ctx, g.sourceKey(source)))
		}
	}
	g.audit(ctx, Attempt{
		ID:            uuid.NewString(),
		Identity:      identity,
		SourceAddress: source,
		At:            g.clock.Now(),
		Success:       success,
		FailureReason: reason,
	})
	return err
}

// IsLocked reports whether identity has used up its attempts within the
// current window.
func (g *Guard) IsLocked(ctx context.Context, identity string) (bool, error) {
	return g.reached(ctx, g.identityKey(identity), g.policy.IdentityThreshold)
}

// RetryAfter returns how long identity stays locked. Zero when not locked.
func (g *Guard) RetryAfter(ctx context.Context, identity string) (time.Duration, error) {
	locked, err := g.IsLocked(ctx, identity)
	if err != nil || !locked {
		return 0, err
	}
	ctx, cancel := g.bounded(ctx)
	defer cancel()
	ttl, err := g.client.PTTL(ctx, g.identityKey(identity)).Result()
	if err != nil {
		return 0, fmt.Errorf("lockout: ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Unlock clears the identity counter, for administrators.
func (g *Guard) Unlock(ctx context.Context, identity string) error {
	return g.reset(ctx, identity)
}

func (g *Guard) reset(ctx context.Context, identity string) error {
	ctx, cancel := g.bounded(ctx)
	defer cancel()
	if err := g.client.Del(ctx, g.identityKey(identity)).Err(); err != nil {
		return fmt.Errorf("lockout: reset: %w", err)
	}
	return nil
}

func (g *Guard) release(ctx context.Context, keys ...string) error {
	ctx, cancel := g.bounded(ctx)
	defer cancel()
	if err := releaseSlots.Run(ctx, g.client, keys).Err(); err != nil {
		return fmt.Errorf("lockout: release: %w", err)
	}
	return nil
}

func (g *Guard) reached(ctx context.Context, key string, threshold int64) (bool, error) {
	ctx, cancel := g.bounded(ctx)
	defer cancel()
	count, err := g.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("lockout: read counter: %w", err)
	}
	return count >= threshold, nil
}

func (g *Guard) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.storeTimeout)
}

func (g *Guard) audit(ctx context.Context, attempt Attempt) {
	if g.log == nil {
		return
	}
	ctx, cancel := g.bounded(ctx)
	defer cancel()
	if err := g.log.Append(ctx, attempt); err != nil {
		g.logger.Warn("append login attempt", slog.Any("error", err))
	}
}

func (g *Guard) identityKey(identity string) string {
	return g.keys.Key("lockout", "id", identity)
}

func (g *Guard) sourceKey(source string) string {
	return g.keys.Key("lockout", "src", source)
}
