package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/cache"
)

// DefaultCacheTTL bounds how long a resolved permission set may be served
// after an invalidation was missed.
const DefaultCacheTTL = 15 * time.Minute

// Cache stores resolved permission sets per (principal, tenant). Entries are
// stamped with a global role version, a per-tenant override version and a
// per-pair version; a stamp mismatch counts as a miss.
type Cache struct {
	client *redis.Client
	keys   cache.Keyspace
	ttl    time.Duration
}

type cachedSet struct {
	Global      int64    `json:"g"`
	Tenant      int64    `json:"t"`
	Principal   int64    `json:"p"`
	Permissions []string `json:"perms"`
}

// Versions is the version stamp observed when reading the cache.
type Versions struct {
	Global    int64
	Tenant    int64
	Principal int64
}

// NewCache constructs a permission cache.
func NewCache(client *redis.Client, namespace string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{client: client, keys: cache.Keyspace(namespace), ttl: ttl}
}

// Get returns the cached set and whether it was a fresh hit. The returned
// Versions should be passed to Put so a fill never stamps data read before
// a concurrent bump with the newer version.
func (c *Cache) Get(ctx context.Context, principalID, tenantID string) ([]string, Versions, bool, error) {
	pipe := c.client.Pipeline()
	globalCmd := pipe.Get(ctx, c.globalVersionKey())
	tenantCmd := pipe.Get(ctx, c.tenantVersionKey(tenantID))
	pairCmd := pipe.Get(ctx, c.pairVersionKey(principalID, tenantID))
	setCmd := pipe.Get(ctx, c.setKey(principalID, tenantID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, Versions{}, false, fmt.Errorf("rbac: cache read: %w", err)
	}

	var vers Versions
	var err error
	if vers.Global, err = versionOf(globalCmd); err != nil {
		return nil, Versions{}, false, err
	}
	if vers.Tenant, err = versionOf(tenantCmd); err != nil {
		return nil, Versions{}, false, err
	}
	if vers.Principal, err = versionOf(pairCmd); err != nil {
		return nil, Versions{}, false, err
	}

	raw, err := setCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, vers, false, nil
		}
		return nil, vers, false, fmt.Errorf("rbac: cache read: %w", err)
	}
	var entry cachedSet
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, vers, false, nil
	}
	if entry.Global != vers.Global || entry.Tenant != vers.Tenant || entry.Principal != vers.Principal {
		return nil, vers, false, nil
	}
	return entry.Permissions, vers, true, nil
}

// Put stores a resolved set stamped with vers.
func (c *Cache) Put(ctx context.Context, principalID, tenantID string, vers Versions, perms []string) error {
	raw, err := json.Marshal(cachedSet{Global: vers.Global, Tenant: vers.Tenant, Principal: vers.Principal, Permissions: perms})
	if err != nil {
		return fmt.Errorf("rbac: cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.setKey(principalID, tenantID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("rbac: cache write: %w", err)
	}
	return nil
}

// InvalidatePrincipal drops the cached set for one (principal, tenant). The
// pair version is bumped too so an in-flight fill cannot store stale data.
func (c *Cache) InvalidatePrincipal(ctx context.Context, principalID, tenantID string) error {
	versionKey := c.pairVersionKey(principalID, tenantID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		pipe.Expire(ctx, versionKey, 2*c.ttl)
		pipe.Del(ctx, c.setKey(principalID, tenantID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("rbac: cache invalidate: %w", err)
	}
	return nil
}

// BumpTenant invalidates every cached set within a tenant.
func (c *Cache) BumpTenant(ctx context.Context, tenantID string) error {
	if err := c.client.Incr(ctx, c.tenantVersionKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("rbac: bump tenant version: %w", err)
	}
	return nil
}

// BumpGlobal invalidates every cached set.
func (c *Cache) BumpGlobal(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.globalVersionKey()).Err(); err != nil {
		return fmt.Errorf("rbac: bump global version: %w", err)
	}
	return nil
}

func versionOf(cmd *redis.StringCmd) (int64, error) {
	v, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rbac: cache version: %w", err)
	}
	return v, nil
}

func (c *Cache) globalVersionKey() string {
	return c.keys.Key("rbac", "version")
}

func (c *Cache) tenantVersionKey(tenantID string) string {
	return c.keys.Key("rbac", "tenant", tenantID, "version")
}

func (c *Cache) pairVersionKey(principalID, tenantID string) string {
	return c.keys.Key("rbac", "pair", tenantID, principalID, "version")
}

func (c *Cache) setKey(principalID, tenantID string) string {
	return c.keys.Key("rbac", "perms", tenantID, principalID)
}
