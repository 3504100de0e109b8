package principals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/db"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// Repository defines persistence operations for principals.
type Repository interface {
	FindByIdentity(ctx context.Context, identity string) (*Principal, error)
	FindByID(ctx context.Context, id string) (*Principal, error)
	Create(ctx context.Context, p Principal) (*Principal, error)
	UpdateCredentialHash(ctx context.Context, id, hash string) error
	MarkAuthenticated(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status Status) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db db.Querier
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(q db.Querier) *PGRepository {
	return &PGRepository{db: q}
}

const principalColumns = `id, tenant_id, identity, credential_hash, kind, status,
	failed_attempt_count, last_authenticated_at, created_at, updated_at`

// FindByIdentity fetches a principal by canonical identity.
func (r *PGRepository) FindByIdentity(ctx context.Context, identity string) (*Principal, error) {
	row := r.db.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE identity = $1`, identity)
	return scanPrincipal(row)
}

// FindByID fetches a principal by id.
func (r *PGRepository) FindByID(ctx context.Context, id string) (*Principal, error) {
	row := r.db.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1`, id)
	return scanPrincipal(row)
}

// Create inserts a principal after checking the tenant invariant.
func (r *PGRepository) Create(ctx context.Context, p Principal) (*Principal, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	row := r.db.QueryRow(ctx, `INSERT INTO principals (tenant_id, identity, credential_hash, kind, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+principalColumns,
		p.TenantID, shared.CanonicalIdentity(p.Identity), p.CredentialHash, string(p.Kind), string(p.Status))
	created, err := scanPrincipal(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("principals: identity already registered: %w", err)
		}
		return nil, err
	}
	return created, nil
}

// UpdateCredentialHash replaces a stored credential hash.
func (r *PGRepository) UpdateCredentialHash(ctx context.Context, id, hash string) error {
	return r.exec(ctx, `UPDATE principals SET credential_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
}

// MarkAuthenticated stamps a successful login and clears the failure counter.
func (r *PGRepository) MarkAuthenticated(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE principals
		SET last_authenticated_at = $2, failed_attempt_count = 0, updated_at = NOW()
		WHERE id = $1`, id, at.UTC())
}

// RecordFailure increments the persisted failure counter.
func (r *PGRepository) RecordFailure(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE principals
		SET failed_attempt_count = failed_attempt_count + 1, updated_at = NOW()
		WHERE id = $1`, id)
}

// SetStatus changes the lifecycle state.
func (r *PGRepository) SetStatus(ctx context.Context, id string, status Status) error {
	return r.exec(ctx, `UPDATE principals SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
}

func (r *PGRepository) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanPrincipal(row pgx.Row) (*Principal, error) {
	var (
		p        Principal
		kind     string
		status   string
		lastAuth *time.Time
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.Identity, &p.CredentialHash, &kind, &status,
		&p.FailedAttemptCount, &lastAuth, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	p.Kind = Kind(kind)
	p.Status = Status(status)
	p.LastAuthenticatedAt = lastAuth
	return &p, nil
}

var _ Repository = (*PGRepository)(nil)
