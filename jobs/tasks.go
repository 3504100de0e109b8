package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRevocationSweep deletes refresh-token records past their expiry.
	TaskRevocationSweep = "auth:revocation_sweep"
	// TaskLoginAttemptPrune deletes login attempts older than the retention.
	TaskLoginAttemptPrune = "auth:login_attempt_prune"
)

// Cron specs for the maintenance schedule, in UTC.
const (
	RevocationSweepSpec   = "@hourly"
	LoginAttemptPruneSpec = "30 3 * * *"
)

// RevocationSweepPayload describes a sweep run.
type RevocationSweepPayload struct {
	// Grace keeps records this long past expiry.
	Grace time.Duration `json:"grace,omitempty"`
}

// LoginAttemptPrunePayload describes a prune run.
type LoginAttemptPrunePayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewRevocationSweepTask builds a sweep task.
func NewRevocationSweepTask(grace time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(RevocationSweepPayload{Grace: grace})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRevocationSweep, body, asynq.Queue(QueueDefault)), nil
}

// NewLoginAttemptPruneTask builds a prune task. A zero retention uses the
// job's configured default.
func NewLoginAttemptPruneTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(LoginAttemptPrunePayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLoginAttemptPrune, body, asynq.Queue(QueueDefault)), nil
}
