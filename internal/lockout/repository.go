package lockout

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/db"
)

// AttemptLog is the append-only login attempt audit trail.
type AttemptLog interface {
	Append(ctx context.Context, attempt Attempt) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// PGAttemptLog stores attempts in the login_attempts table.
type PGAttemptLog struct {
	db db.Querier
}

// NewAttemptLog constructs a PostgreSQL attempt log.
func NewAttemptLog(q db.Querier) *PGAttemptLog {
	return &PGAttemptLog{db: q}
}

// Append inserts one attempt row.
func (l *PGAttemptLog) Append(ctx context.Context, a Attempt) error {
	var reason *string
	if a.FailureReason != "" {
		reason = &a.FailureReason
	}
	_, err := l.db.Exec(ctx, `INSERT INTO login_attempts (id, identity, source_address, attempted_at, success, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6)`, a.ID, a.Identity, a.SourceAddress, a.At.UTC(), a.Success, reason)
	return err
}

// Prune deletes attempts older than before. Safe to repeat.
func (l *PGAttemptLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := l.db.Exec(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ AttemptLog = (*PGAttemptLog)(nil)
