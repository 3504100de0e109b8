package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const defaultMaxRetry = 3

// Client enqueues maintenance tasks on demand.
type Client struct {
	asynq *asynq.Client
}

// NewClient opens a client against the queue's Redis.
func NewClient(opts asynq.RedisClientOpt) (*Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("jobs: client: redis address required")
	}
	return &Client{asynq: asynq.NewClient(opts)}, nil
}

// EnqueueRevocationSweep schedules an immediate sweep of refresh tokens
// expired for longer than grace.
func (c *Client) EnqueueRevocationSweep(ctx context.Context, grace time.Duration) (*asynq.TaskInfo, error) {
	task, err := NewRevocationSweepTask(grace)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

// EnqueueLoginAttemptPrune schedules an immediate prune of attempt rows
// older than retention.
func (c *Client) EnqueueLoginAttemptPrune(ctx context.Context, retention time.Duration) (*asynq.TaskInfo, error) {
	task, err := NewLoginAttemptPruneTask(retention)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	info, err := c.asynq.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(defaultMaxRetry))
	if err != nil {
		return nil, fmt.Errorf("jobs: enqueue %s: %w", task.Type(), err)
	}
	return info, nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.asynq.Close()
}
