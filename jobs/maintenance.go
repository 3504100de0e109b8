package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-auth/internal/jobs"
	"github.com/odyssey-erp/odyssey-auth/internal/lockout"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
	"github.com/odyssey-erp/odyssey-auth/internal/tokens"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DefaultAttemptRetention keeps login attempts for 90 days.
const DefaultAttemptRetention = 90 * 24 * time.Hour

// RevocationSweepJob removes refresh-token records that can no longer be
// presented.
type RevocationSweepJob struct {
	Store   tokens.RevocationStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   shared.Clock
}

// NewRevocationSweepJob wires dependencies for the sweep handler.
func NewRevocationSweepJob(store tokens.RevocationStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *RevocationSweepJob {
	return &RevocationSweepJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle processes TaskRevocationSweep tasks.
func (j *RevocationSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("revocation sweep: handler not configured")
	}
	var payload RevocationSweepPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	_, err := j.Run(ctx, payload.Grace)
	return err
}

// Run deletes records that expired more than grace ago.
func (j *RevocationSweepJob) Run(ctx context.Context, grace time.Duration) (removed int64, err error) {
	tracker := metricsOrDefault(j.Metrics).Track(TaskRevocationSweep)
	defer func() {
		err = tracker.End(err)
	}()
	cutoff := j.clock.Now().Add(-grace)
	removed, err = j.Store.SweepExpired(ctx, cutoff)
	if err != nil {
		loggerOrDefault(j.Logger).Error("revocation sweep", slog.Any("error", err))
		return 0, fmt.Errorf("revocation sweep: %w", err)
	}
	metricsOrDefault(j.Metrics).AddRemoved(TaskRevocationSweep, removed)
	loggerOrDefault(j.Logger).Info("revocation sweep finished", slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
	return removed, nil
}

// LoginAttemptPruneJob trims the login attempt audit log.
type LoginAttemptPruneJob struct {
	Log       lockout.AttemptLog
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     shared.Clock
}

// NewLoginAttemptPruneJob wires dependencies for the prune handler.
func NewLoginAttemptPruneJob(log lockout.AttemptLog, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *LoginAttemptPruneJob {
	if retention <= 0 {
		retention = DefaultAttemptRetention
	}
	return &LoginAttemptPruneJob{Log: log, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle processes TaskLoginAttemptPrune tasks.
func (j *LoginAttemptPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Log == nil {
		return errors.New("login attempt prune: handler not configured")
	}
	var payload LoginAttemptPrunePayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	_, err := j.Run(ctx, payload.Retention)
	return err
}

// Run deletes attempts older than retention, or the job default when zero.
func (j *LoginAttemptPruneJob) Run(ctx context.Context, retention time.Duration) (removed int64, err error) {
	if retention <= 0 {
		retention = j.Retention
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskLoginAttemptPrune)
	defer func() {
		err = tracker.End(err)
	}()
	before := j.clock.Now().Add(-retention)
	removed, err = j.Log.Prune(ctx, before)
	if err != nil {
		loggerOrDefault(j.Logger).Error("login attempt prune", slog.Any("error", err))
		return 0, fmt.Errorf("login attempt prune: %w", err)
	}
	metricsOrDefault(j.Metrics).AddRemoved(TaskLoginAttemptPrune, removed)
	loggerOrDefault(j.Logger).Info("login attempt prune finished", slog.Int64("removed", removed), slog.Time("before", before))
	return removed, nil
}

func decodePayload(t *asynq.Task, dst any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), dst); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
