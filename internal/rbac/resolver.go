package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/tenancy"
)

const defaultStoreTimeout = 3 * time.Second

// Resolver answers permission questions for a principal in a tenant.
type Resolver struct {
	repo         Repository
	cache        *Cache
	guard        *tenancy.Guard
	logger       *slog.Logger
	storeTimeout time.Duration
	fills        singleflight.Group
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache enables the Redis permission cache.
func WithCache(c *Cache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithStoreTimeout bounds each repository and cache call.
func WithStoreTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.storeTimeout = d
		}
	}
}

// NewResolver constructs a Resolver.
func NewResolver(repo Repository, guard *tenancy.Guard, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		repo:         repo,
		guard:        guard,
		logger:       slog.Default(),
		storeTimeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasPermission reports whether id holds code in tenantID. Asking about a
// foreign tenant returns false with shared.ErrCrossTenant. Any store error
// returns false.
func (r *Resolver) HasPermission(ctx context.Context, id principals.Identity, tenantID, code string) (bool, error) {
	if err := r.guard.AssertScope(id, tenantID); err != nil {
		return false, err
	}
	if id.IsPlatformOperator() {
		return true, nil
	}
	normalized, err := NormalizeCode(code)
	if err != nil {
		return false, nil
	}
	perms, err := r.permissions(ctx, id.PrincipalID, tenantID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == normalized {
			return true, nil
		}
	}
	return false, nil
}

// EffectivePermissions lists every code id holds in tenantID. Platform
// operators receive the whole catalogue.
func (r *Resolver) EffectivePermissions(ctx context.Context, id principals.Identity, tenantID string) ([]string, error) {
	if err := r.guard.AssertScope(id, tenantID); err != nil {
		return nil, err
	}
	if _, scoped := r.guard.Filter(id); !scoped {
		ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
		defer cancel()
		catalogue, err := r.repo.ListPermissions(ctx)
		if err != nil {
			return nil, fmt.Errorf("rbac: list permissions: %w", err)
		}
		codes := make([]string, 0, len(catalogue))
		for _, p := range catalogue {
			codes = append(codes, p.Code)
		}
		return codes, nil
	}
	perms, err := r.permissions(ctx, id.PrincipalID, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out, nil
}

func (r *Resolver) permissions(ctx context.Context, principalID, tenantID string) ([]string, error) {
	var vers Versions
	cacheUsable := r.cache != nil
	if cacheUsable {
		cctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
		perms, v, hit, err := r.cache.Get(cctx, principalID, tenantID)
		cancel()
		switch {
		case err != nil:
			r.logger.Warn("permission cache read failed", slog.Any("error", err))
			cacheUsable = false
		case hit:
			return perms, nil
		default:
			vers = v
		}
	}

	key := tenantID + "\x00" + principalID
	ch := r.fills.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storeTimeout)
		defer cancel()
		snap, err := r.repo.LoadSnapshot(lctx, principalID, tenantID)
		if err != nil {
			return nil, fmt.Errorf("rbac: load permissions: %w", err)
		}
		perms := snap.Effective()
		if cacheUsable {
			if err := r.cache.Put(lctx, principalID, tenantID, vers, perms); err != nil {
				r.logger.Warn("permission cache write failed", slog.Any("error", err))
			}
		}
		return perms, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		perms, ok := res.Val.([]string)
		if !ok {
			return nil, errors.New("rbac: unexpected fill result")
		}
		return perms, nil
	}
}
