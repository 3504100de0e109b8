package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// LockoutStatus describes the lockout counter of one principal.
type LockoutStatus struct {
	Locked     bool
	RetryAfter time.Duration
}

// Principal loads a principal by id.
func (g *Gateway) Principal(ctx context.Context, id string) (*principals.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()
	return g.principals.FindByID(ctx, id)
}

// Lockout reports whether p is locked out and for how long.
func (g *Gateway) Lockout(ctx context.Context, p *principals.Principal) (LockoutStatus, error) {
	locked, err := g.lockout.IsLocked(ctx, shared.CanonicalIdentity(p.Identity))
	if err != nil || !locked {
		return LockoutStatus{}, err
	}
	wait, err := g.lockout.RetryAfter(ctx, shared.CanonicalIdentity(p.Identity))
	if err != nil {
		return LockoutStatus{}, err
	}
	return LockoutStatus{Locked: true, RetryAfter: wait}, nil
}

// Unlock clears the failed attempt counter of p.
func (g *Gateway) Unlock(ctx context.Context, p *principals.Principal) error {
	if err := g.lockout.Unlock(ctx, shared.CanonicalIdentity(p.Identity)); err != nil {
		return err
	}
	g.logger.Info("principal unlocked", slog.String("principal_id", p.ID))
	return nil
}

// Suspend blocks further logins by p and ends every session and refresh
// family it holds.
func (g *Gateway) Suspend(ctx context.Context, p *principals.Principal) error {
	if err := g.setStatus(ctx, p, principals.StatusSuspended); err != nil {
		return err
	}
	if err := g.LogoutEverywhere(ctx, p.ID); err != nil {
		return fmt.Errorf("auth: end sessions of suspended principal: %w", err)
	}
	return nil
}

// Reactivate returns p to active and clears its lockout counter.
func (g *Gateway) Reactivate(ctx context.Context, p *principals.Principal) error {
	return errors.Join(
		g.setStatus(ctx, p, principals.StatusActive),
		g.lockout.Unlock(ctx, shared.CanonicalIdentity(p.Identity)),
	)
}

func (g *Gateway) setStatus(ctx context.Context, p *principals.Principal, status principals.Status) error {
	storeCtx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()
	if err := g.principals.SetStatus(storeCtx, p.ID, status); err != nil {
		return fmt.Errorf("auth: set status: %w", err)
	}
	g.logger.Info("principal status changed",
		slog.String("principal_id", p.ID),
		slog.String("from", string(p.Status)),
		slog.String("to", string(status)))
	p.Status = status
	return nil
}
