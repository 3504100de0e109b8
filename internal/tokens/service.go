package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

const (
	// DefaultAccessTTL is the access token lifetime.
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL is the refresh token lifetime.
	DefaultRefreshTTL = 30 * 24 * time.Hour
	// DefaultIssuer is written to the iss claim.
	DefaultIssuer = "odyssey-auth"
	// MinSecretLength is the minimum HS256 key size in bytes.
	MinSecretLength = 32

	// DefaultRotationGrace is how long a just-rotated token is answered as
	// a lost race instead of as reuse.
	DefaultRotationGrace = 10 * time.Second

	defaultStoreTimeout = 3 * time.Second
)

// ErrWeakSecret is returned when the signing secret is too short.
var ErrWeakSecret = fmt.Errorf("tokens: signing secret must be at least %d bytes", MinSecretLength)

// Service issues, verifies, rotates and revokes bearer token pairs.
type Service struct {
	secret       []byte
	store        RevocationStore
	issuer       string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	storeTimeout time.Duration
	grace        time.Duration
	clock        shared.Clock
	logger       *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithIssuer sets the iss claim written and required on verification.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithClock injects the time source used for iat/exp and verification.
func WithClock(clock shared.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithStoreTimeout bounds every revocation store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithRotationGrace overrides DefaultRotationGrace. Zero treats every
// presentation of a rotated token as reuse.
func WithRotationGrace(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService constructs a token service. The secret must be at least
// MinSecretLength bytes.
func NewService(secret []byte, store RevocationStore, opts ...Option) (*Service, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if store == nil {
		return nil, errors.New("tokens: revocation store required")
	}
	s := &Service{
		secret:       append([]byte(nil), secret...),
		store:        store,
		issuer:       DefaultIssuer,
		accessTTL:    DefaultAccessTTL,
		refreshTTL:   DefaultRefreshTTL,
		storeTimeout: defaultStoreTimeout,
		grace:        DefaultRotationGrace,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// Issue mints a new token pair starting a fresh refresh family. The refresh
// record is persisted before the pair is returned.
func (s *Service) Issue(ctx context.Context, id principals.Identity) (Pair, error) {
	pair, rec, err := s.mint(id, uuid.NewString())
	if err != nil {
		return Pair{}, err
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.Persist(storeCtx, rec); err != nil {
		return Pair{}, fmt.Errorf("tokens: issue: %w", err)
	}
	return pair, nil
}

// VerifyAccess validates an access token without touching the store.
func (s *Service) VerifyAccess(token string) (*Claims, error) {
	return s.parse(token, TypeAccess)
}

// VerifyRefresh validates a refresh token including its revocation state.
func (s *Service) VerifyRefresh(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.parse(token, TypeRefresh)
	if err != nil {
		return nil, err
	}
	revoked, err := s.isRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, shared.ErrTokenRevoked
	}
	return claims, nil
}

// Rotate exchanges a live refresh token for a new pair in the same family.
// Exactly one of several concurrent rotations of the same token succeeds.
// Presenting an already consumed token revokes its whole family, unless it
// was rotated within the grace window: that caller lost a race with its own
// other tab and only gets ErrTokenRevoked.
func (s *Service) Rotate(ctx context.Context, refresh string) (Pair, error) {
	claims, err := s.VerifyRefresh(ctx, refresh)
	if errors.Is(err, shared.ErrTokenRevoked) {
		return Pair{}, s.rejectConsumed(ctx, refresh)
	}
	if err != nil {
		return Pair{}, err
	}

	pair, next, err := s.mint(claims.Identity(), claims.FamilyID)
	if err != nil {
		return Pair{}, err
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.Rotate(storeCtx, claims.ID, next); err != nil {
		if errors.Is(err, shared.ErrTokenRevoked) {
			return Pair{}, shared.ErrTokenRevoked
		}
		return Pair{}, fmt.Errorf("tokens: rotate: %w", err)
	}
	return pair, nil
}

// rejectConsumed handles a refresh token that verified but is no longer live.
func (s *Service) rejectConsumed(ctx context.Context, refresh string) error {
	claims, err := s.parse(refresh, TypeRefresh)
	if err != nil {
		return err
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	rec, err := s.store.Lookup(storeCtx, claims.ID)
	switch {
	case err == nil && s.rotatedRecently(rec):
		s.logger.Info("refresh lost rotation race",
			slog.String("principal_id", claims.Subject),
			slog.String("family_id", claims.FamilyID))
		return shared.ErrTokenRevoked
	case err != nil && !errors.Is(err, shared.ErrNotFound):
		s.logger.Error("load consumed refresh token", slog.Any("error", err))
	}

	s.logger.Warn("refresh token reuse detected",
		slog.String("principal_id", claims.Subject),
		slog.String("family_id", claims.FamilyID))
	if claims.FamilyID != "" {
		if err := s.store.RevokeFamily(storeCtx, claims.FamilyID); err != nil {
			s.logger.Error("revoke token family", slog.Any("error", err))
		}
	}
	return shared.ErrTokenRevoked
}

func (s *Service) rotatedRecently(rec Record) bool {
	if rec.ReplacedBy == "" || rec.RevokedAt == nil || s.grace <= 0 {
		return false
	}
	return s.clock.Now().Sub(*rec.RevokedAt) <= s.grace
}

// Revoke handles logout for a bearer client by revoking the presented
// token's family. Expired tokens are accepted since they are already dead.
func (s *Service) Revoke(ctx context.Context, refresh string) error {
	claims, err := s.parse(refresh, TypeRefresh)
	if err != nil {
		if errors.Is(err, shared.ErrTokenExpired) {
			return nil
		}
		return err
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if claims.FamilyID == "" {
		err = s.store.Revoke(storeCtx, claims.ID)
	} else {
		err = s.store.RevokeFamily(storeCtx, claims.FamilyID)
	}
	if err != nil {
		return fmt.Errorf("tokens: revoke: %w", err)
	}
	return nil
}

// RevokeAll revokes every refresh token held by a principal.
func (s *Service) RevokeAll(ctx context.Context, principalID string) error {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.RevokeAllForPrincipal(storeCtx, principalID); err != nil {
		return fmt.Errorf("tokens: revoke all: %w", err)
	}
	return nil
}

func (s *Service) isRevoked(ctx context.Context, jti string) (bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	revoked, err := s.store.IsRevoked(storeCtx, jti)
	if err != nil {
		return true, fmt.Errorf("tokens: revocation lookup: %w", err)
	}
	return revoked, nil
}

func (s *Service) mint(id principals.Identity, familyID string) (Pair, Record, error) {
	now := s.clock.Now().Truncate(time.Second)
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)

	access, err := s.sign(id, TypeAccess, uuid.NewString(), "", now, accessExp)
	if err != nil {
		return Pair{}, Record{}, err
	}
	refreshJTI := uuid.NewString()
	refresh, err := s.sign(id, TypeRefresh, refreshJTI, familyID, now, refreshExp)
	if err != nil {
		return Pair{}, Record{}, err
	}
	pair := Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int64(s.accessTTL / time.Second),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		RefreshJTI:       refreshJTI,
	}
	rec := Record{
		JTI:         refreshJTI,
		PrincipalID: id.PrincipalID,
		TenantID:    id.TenantID,
		DeviceID:    id.DeviceID,
		FamilyID:    familyID,
		ExpiresAt:   refreshExp,
		CreatedAt:   now,
	}
	return pair, rec, nil
}

func (s *Service) sign(id principals.Identity, typ Type, jti, familyID string, now, exp time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   id.PrincipalID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		TenantID: id.TenantID,
		Kind:     id.Kind,
		DeviceID: id.DeviceID,
		Type:     typ,
		FamilyID: familyID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("tokens: sign: %w", err)
	}
	return signed, nil
}

func (s *Service) parse(raw string, want Type) (*Claims, error) {
	if raw == "" {
		return nil, shared.ErrMalformedToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.issuer),
	)
	if err != nil {
		return nil, classify(err)
	}
	if claims.Type != want || claims.Subject == "" || claims.ID == "" {
		return nil, shared.ErrMalformedToken
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return shared.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return shared.ErrInvalidSignature
	default:
		return shared.ErrMalformedToken
	}
}
