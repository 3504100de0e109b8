package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-auth/internal/app"
	"github.com/odyssey-erp/odyssey-auth/internal/lockout"
	"github.com/odyssey-erp/odyssey-auth/internal/platform/db"
	"github.com/odyssey-erp/odyssey-auth/internal/tokens"
	"github.com/odyssey-erp/odyssey-auth/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	sweepJob := jobs.NewRevocationSweepJob(tokens.NewRevocationStore(pool), logger, nil)
	pruneJob := jobs.NewLoginAttemptPruneJob(lockout.NewAttemptLog(pool), cfg.LoginAttemptRetention, logger, nil)

	sweepTask, err := jobs.NewRevocationSweepTask(0)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	pruneTask, err := jobs.NewLoginAttemptPruneTask(0)
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRevocationSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskLoginAttemptPrune, Handler: pruneJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: jobs.RevocationSweepSpec, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: jobs.LoginAttemptPruneSpec, Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
