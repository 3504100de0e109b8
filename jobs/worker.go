package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration schedules Task on a cron Spec.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig configures NewWorker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// Worker processes maintenance tasks and, when cron entries exist, enqueues
// them on schedule.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
}

// NewWorker validates cfg and prepares the server and scheduler. Nothing
// connects to Redis until Run.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if len(cfg.Handlers) == 0 {
		return nil, errors.New("jobs: worker: no handlers registered")
	}
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			return nil, fmt.Errorf("jobs: worker: incomplete handler %q", h.Type)
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	adapter := newAsynqLogger(cfg.Logger)
	w := &Worker{
		mux: mux,
		server: asynq.NewServer(cfg.RedisOpts, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{QueueDefault: 1},
			Logger:      adapter,
			LogLevel:    asynq.WarnLevel,
		}),
	}
	if len(cfg.Cron) == 0 {
		return w, nil
	}

	w.scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   adapter,
		LogLevel: asynq.WarnLevel,
	})
	for _, entry := range cfg.Cron {
		if entry.Spec == "" || entry.Task == nil {
			return nil, errors.New("jobs: worker: incomplete cron entry")
		}
		if _, err := w.scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
			return nil, fmt.Errorf("jobs: worker: schedule %s: %w", entry.Task.Type(), err)
		}
	}
	return w, nil
}

// Run blocks until ctx is cancelled or the server stops on its own.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.server == nil {
		return errors.New("jobs: worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return fmt.Errorf("jobs: worker: start scheduler: %w", err)
		}
		defer w.scheduler.Shutdown()
	}

	done := make(chan error, 1)
	go func() { done <- w.server.Run(w.mux) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	}
}
