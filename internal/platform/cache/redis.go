package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a new Redis client. Command deadlines follow the caller's
// context so store timeouts bound every round trip.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:                  addr,
		ContextTimeoutEnabled: true,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// Keyspace builds namespaced Redis keys. Each deployment passes its own
// namespace so instances sharing a Redis never collide.
type Keyspace string

// Key joins parts under the namespace.
func (k Keyspace) Key(parts ...string) string {
	if k == "" {
		return strings.Join(parts, ":")
	}
	return string(k) + ":" + strings.Join(parts, ":")
}
