package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-auth/internal/lockout"
	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/sessions"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
	"github.com/odyssey-erp/odyssey-auth/internal/tokens"
)

// Credentials are what a client presents to log in.
type Credentials struct {
	Identity string
	Secret   string
	// Source is the client network address used for throttling.
	Source string
}

// Hasher verifies and derives credential hashes.
type Hasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, encoded string) (bool, error)
	NeedsRehash(encoded string) bool
}

// FailureObserver counts failures by reason.
type FailureObserver interface {
	ObserveAuthFailure(reason string)
	ObserveLogin(mode string)
}

type noopObserver struct{}

func (noopObserver) ObserveAuthFailure(string) {}
func (noopObserver) ObserveLogin(string)       {}

// Login modes reported to the FailureObserver.
const (
	ModeSession = "session"
	ModeToken   = "token"
)

// Gateway authenticates principals and hands out sessions or token pairs.
// Both modes share one credential path.
type Gateway struct {
	principals principals.Repository
	hasher     Hasher
	lockout    *lockout.Guard
	tokens     *tokens.Service
	sessions   *sessions.Manager
	observer   FailureObserver
	clock      shared.Clock
	logger     *slog.Logger

	storeTimeout time.Duration

	// dummyHash is verified against when the identity is unknown so both
	// paths cost one Argon2id derivation.
	dummyHash string
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithObserver records failures and logins.
func WithObserver(o FailureObserver) GatewayOption {
	return func(g *Gateway) {
		if o != nil {
			g.observer = o
		}
	}
}

// WithGatewayClock injects the time source.
func WithGatewayClock(clock shared.Clock) GatewayOption {
	return func(g *Gateway) { g.clock = clock }
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithStoreTimeout bounds each principal repository call.
func WithStoreTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.storeTimeout = d
		}
	}
}

// NewGateway wires the gateway. It hashes a random secret once to obtain
// the dummy hash for unknown identities.
func NewGateway(ctx context.Context, repo principals.Repository, hasher Hasher, guard *lockout.Guard, tokenSvc *tokens.Service, sessionMgr *sessions.Manager, opts ...GatewayOption) (*Gateway, error) {
	g := &Gateway{
		principals: repo,
		hasher:     hasher,
		lockout:    guard,
		tokens:     tokenSvc,
		sessions:   sessionMgr,
		observer:   noopObserver{},
		logger:     slog.Default(),

		storeTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	filler, err := shared.RandomToken(32)
	if err != nil {
		return nil, err
	}
	g.dummyHash, err = hasher.Hash(ctx, filler)
	if err != nil {
		return nil, fmt.Errorf("auth: derive dummy hash: %w", err)
	}
	return g, nil
}

// LoginSession authenticates and opens a browser session under a fresh id.
func (g *Gateway) LoginSession(ctx context.Context, creds Credentials) (*sessions.Session, error) {
	p, err := g.authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	sess, err := g.sessions.Create(ctx, *p)
	if err != nil {
		return nil, fmt.Errorf("auth: create session: %w", err)
	}
	g.observer.ObserveLogin(ModeSession)
	return sess, nil
}

// LoginToken authenticates and issues an access/refresh pair bound to
// deviceID.
func (g *Gateway) LoginToken(ctx context.Context, creds Credentials, deviceID string) (tokens.Pair, error) {
	p, err := g.authenticate(ctx, creds)
	if err != nil {
		return tokens.Pair{}, err
	}
	id := principals.IdentityOf(*p)
	id.DeviceID = deviceID
	pair, err := g.tokens.Issue(ctx, id)
	if err != nil {
		return tokens.Pair{}, fmt.Errorf("auth: issue tokens: %w", err)
	}
	g.observer.ObserveLogin(ModeToken)
	return pair, nil
}

// Refresh rotates a refresh token into a new pair.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string) (tokens.Pair, error) {
	pair, err := g.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		g.fail(err)
		return tokens.Pair{}, err
	}
	return pair, nil
}

// LogoutSession destroys a browser session.
func (g *Gateway) LogoutSession(ctx context.Context, sessionID string) error {
	return g.sessions.Destroy(ctx, sessionID)
}

// LogoutToken revokes the refresh family of the presented token.
func (g *Gateway) LogoutToken(ctx context.Context, refreshToken string) error {
	if err := g.tokens.Revoke(ctx, refreshToken); err != nil {
		g.fail(err)
		return err
	}
	return nil
}

// LogoutEverywhere destroys every session and revokes every refresh token
// of a principal. Access tokens already issued live until they expire.
func (g *Gateway) LogoutEverywhere(ctx context.Context, principalID string) error {
	return errors.Join(
		g.sessions.DestroyAllForPrincipal(ctx, principalID),
		g.tokens.RevokeAll(ctx, principalID),
	)
}

func (g *Gateway) authenticate(ctx context.Context, creds Credentials) (*principals.Principal, error) {
	identity := shared.CanonicalIdentity(creds.Identity)
	if identity == "" || creds.Secret == "" {
		g.fail(shared.ErrInvalidCredentials)
		return nil, shared.ErrInvalidCredentials
	}

	// The slot is taken before any credential work. Every failure below keeps
	// it; only errors without a verdict hand it back.
	if err := g.lockout.Reserve(ctx, identity, creds.Source); err != nil {
		switch {
		case errors.Is(err, shared.ErrRateLimited):
			g.record(ctx, identity, creds.Source, lockout.ReasonThrottled)
		case errors.Is(err, shared.ErrAccountLocked):
			g.record(ctx, identity, creds.Source, lockout.ReasonLocked)
		default:
			g.logger.Error("lockout reservation failed", slog.Any("error", err))
			err = fmt.Errorf("auth: lockout: %w", err)
		}
		g.fail(err)
		return nil, err
	}

	p, err := g.findPrincipal(ctx, identity)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			g.logger.Error("load principal", slog.Any("error", err))
			g.release(ctx, identity, creds.Source)
			g.fail(err)
			return nil, fmt.Errorf("auth: load principal: %w", err)
		}
		_, _ = g.hasher.Verify(ctx, creds.Secret, g.dummyHash)
		g.record(ctx, identity, creds.Source, lockout.ReasonUnknownIdentity)
		g.fail(shared.ErrInvalidCredentials)
		return nil, shared.ErrInvalidCredentials
	}

	ok, err := g.hasher.Verify(ctx, creds.Secret, p.CredentialHash)
	switch {
	case errors.Is(err, shared.ErrCorruptCredential):
		g.logger.Error("corrupt credential hash", slog.String("principal_id", p.ID))
		g.record(ctx, identity, creds.Source, lockout.ReasonCorrupt)
		g.fail(err)
		return nil, shared.ErrCorruptCredential
	case err != nil:
		g.release(ctx, identity, creds.Source)
		g.fail(err)
		return nil, fmt.Errorf("auth: verify: %w", err)
	case !ok:
		g.record(ctx, identity, creds.Source, lockout.ReasonBadSecret)
		g.storeCall(ctx, "record principal failure", func(ctx context.Context) error {
			return g.principals.RecordFailure(ctx, p.ID)
		})
		g.fail(shared.ErrInvalidCredentials)
		return nil, shared.ErrInvalidCredentials
	}

	switch p.Status {
	case principals.StatusActive:
	case principals.StatusSuspended:
		g.record(ctx, identity, creds.Source, lockout.ReasonSuspended)
		g.fail(shared.ErrAccountSuspended)
		return nil, shared.ErrAccountSuspended
	default:
		g.record(ctx, identity, creds.Source, lockout.ReasonInactive)
		g.fail(shared.ErrInvalidCredentials)
		return nil, shared.ErrInvalidCredentials
	}

	if err := g.lockout.RecordAttempt(ctx, identity, creds.Source, true, ""); err != nil {
		g.logger.Warn("reset lockout counter", slog.Any("error", err))
	}
	now := g.clock.Now()
	g.storeCall(ctx, "mark authenticated", func(ctx context.Context) error {
		return g.principals.MarkAuthenticated(ctx, p.ID, now)
	})
	p.LastAuthenticatedAt = &now
	p.FailedAttemptCount = 0
	g.rehash(ctx, p, creds.Secret)
	return p, nil
}

func (g *Gateway) findPrincipal(ctx context.Context, identity string) (*principals.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()
	return g.principals.FindByIdentity(ctx, identity)
}

// storeCall runs a bookkeeping write under the store timeout. Failures are
// logged and do not change the login outcome.
func (g *Gateway) storeCall(ctx context.Context, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		g.logger.Warn(what, slog.Any("error", err))
	}
}

// rehash upgrades a hash produced under older parameters. Failures leave the
// old hash in place.
func (g *Gateway) rehash(ctx context.Context, p *principals.Principal, secret string) {
	if !g.hasher.NeedsRehash(p.CredentialHash) {
		return
	}
	upgraded, err := g.hasher.Hash(ctx, secret)
	if err != nil {
		g.logger.Warn("rehash credential", slog.Any("error", err))
		return
	}
	storeCtx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()
	if err := g.principals.UpdateCredentialHash(storeCtx, p.ID, upgraded); err != nil {
		g.logger.Warn("store rehashed credential", slog.Any("error", err))
		return
	}
	p.CredentialHash = upgraded
}

func (g *Gateway) record(ctx context.Context, identity, source, reason string) {
	if err := g.lockout.RecordAttempt(ctx, identity, source, false, reason); err != nil {
		g.logger.Warn("record failed attempt", slog.String("reason", reason), slog.Any("error", err))
	}
}

func (g *Gateway) release(ctx context.Context, identity, source string) {
	if err := g.lockout.Release(ctx, identity, source); err != nil {
		g.logger.Warn("release lockout slot", slog.Any("error", err))
	}
}

func (g *Gateway) fail(err error) {
	g.observer.ObserveAuthFailure(shared.FailureReason(err))
}
