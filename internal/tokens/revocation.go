package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/db"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// RevocationStore is the source of truth for refresh token validity beyond
// the signature.
type RevocationStore interface {
	Persist(ctx context.Context, rec Record) error
	// IsRevoked reports true for revoked and for unknown identifiers.
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// Lookup returns the stored record or shared.ErrNotFound.
	Lookup(ctx context.Context, jti string) (Record, error)
	Revoke(ctx context.Context, jti string) error
	// Rotate revokes oldJTI only if it is still live and persists next in
	// the same atomic step, stamping revoked_at with next.CreatedAt and
	// replaced_by with next.JTI. It returns shared.ErrTokenRevoked when
	// oldJTI was already consumed.
	Rotate(ctx context.Context, oldJTI string, next Record) error
	RevokeFamily(ctx context.Context, familyID string) error
	RevokeAllForPrincipal(ctx context.Context, principalID string) error
	// SweepExpired deletes revoked rows whose expiry is before now.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// Pool is the pgx surface the PostgreSQL store needs.
type Pool interface {
	db.Querier
	db.TxStarter
}

// PGRevocationStore implements RevocationStore on the refresh_tokens table.
type PGRevocationStore struct {
	pool Pool
}

// NewRevocationStore constructs a PostgreSQL revocation store.
func NewRevocationStore(pool Pool) *PGRevocationStore {
	return &PGRevocationStore{pool: pool}
}

const insertRefreshToken = `INSERT INTO refresh_tokens
	(jti, principal_id, tenant_id, device_id, family_id, revoked, expires_at, created_at)
	VALUES ($1, $2, $3, NULLIF($4, ''), $5, FALSE, $6, $7)`

// Persist records a freshly issued refresh token.
func (s *PGRevocationStore) Persist(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, insertRefreshToken,
		rec.JTI, rec.PrincipalID, rec.TenantID, rec.DeviceID, rec.FamilyID, rec.ExpiresAt.UTC(), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("tokens: persist refresh token: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti is revoked or unknown.
func (s *PGRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.pool.QueryRow(ctx, `SELECT revoked FROM refresh_tokens WHERE jti = $1`, jti).Scan(&revoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return true, fmt.Errorf("tokens: lookup refresh token: %w", err)
	}
	return revoked, nil
}

// Lookup loads one refresh token row.
func (s *PGRevocationStore) Lookup(ctx context.Context, jti string) (Record, error) {
	var (
		rec        Record
		device     *string
		replacedBy *string
	)
	err := s.pool.QueryRow(ctx, `SELECT jti, principal_id, tenant_id, device_id, family_id,
		revoked, revoked_at, replaced_by, expires_at, created_at
		FROM refresh_tokens WHERE jti = $1`, jti).Scan(
		&rec.JTI, &rec.PrincipalID, &rec.TenantID, &device, &rec.FamilyID,
		&rec.Revoked, &rec.RevokedAt, &replacedBy, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, fmt.Errorf("tokens: load refresh token: %w", err)
	}
	if device != nil {
		rec.DeviceID = *device
	}
	if replacedBy != nil {
		rec.ReplacedBy = *replacedBy
	}
	return rec, nil
}

// Revoke marks a single token revoked.
func (s *PGRevocationStore) Revoke(ctx context.Context, jti string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = NOW() WHERE jti = $1 AND revoked = FALSE`, jti); err != nil {
		return fmt.Errorf("tokens: revoke: %w", err)
	}
	return nil
}

// Rotate consumes oldJTI and persists next in one read-committed
// transaction. The conditional update serialises concurrent rotations on
// the row lock; losers re-evaluate the predicate and match zero rows.
func (s *PGRevocationStore) Rotate(ctx context.Context, oldJTI string, next Record) error {
	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	return db.WithTxOptions(ctx, s.pool, opts, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE refresh_tokens
			SET revoked = TRUE, revoked_at = $3, replaced_by = $2
			WHERE jti = $1 AND revoked = FALSE AND expires_at > NOW()`, oldJTI, next.JTI, next.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("tokens: consume refresh token: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return shared.ErrTokenRevoked
		}
		if _, err := tx.Exec(ctx, insertRefreshToken,
			next.JTI, next.PrincipalID, next.TenantID, next.DeviceID, next.FamilyID, next.ExpiresAt.UTC(), next.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("tokens: persist rotated token: %w", err)
		}
		return nil
	})
}

// RevokeFamily revokes every token descending from the same login.
func (s *PGRevocationStore) RevokeFamily(ctx context.Context, familyID string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = NOW() WHERE family_id = $1 AND revoked = FALSE`, familyID); err != nil {
		return fmt.Errorf("tokens: revoke family: %w", err)
	}
	return nil
}

// RevokeAllForPrincipal revokes every live token of a principal.
func (s *PGRevocationStore) RevokeAllForPrincipal(ctx context.Context, principalID string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = NOW() WHERE principal_id = $1 AND revoked = FALSE`, principalID); err != nil {
		return fmt.Errorf("tokens: revoke principal tokens: %w", err)
	}
	return nil
}

// SweepExpired deletes revoked tokens whose expiry has passed. Idempotent.
func (s *PGRevocationStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1 AND revoked = TRUE`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("tokens: sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ RevocationStore = (*PGRevocationStore)(nil)
