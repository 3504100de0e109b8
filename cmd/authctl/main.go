package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-auth/cmd/authctl/cli"
	"github.com/odyssey-erp/odyssey-auth/internal/app"
	"github.com/odyssey-erp/odyssey-auth/internal/lockout"
	"github.com/odyssey-erp/odyssey-auth/internal/password"
	"github.com/odyssey-erp/odyssey-auth/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-auth/internal/platform/db"
	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/tokens"
	"github.com/odyssey-erp/odyssey-auth/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Administrative commands for odyssey-auth",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newHashPasswordCmd(), newSweepCmd(), newPruneCmd(), newSeedCmd(), newQueueCmd())
	return root
}

func loadConfig() (*app.Config, *slog.Logger, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, app.NewLogger(cfg), nil
}

// readSecret reads one line from r. Trailing newline characters are dropped.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("empty secret on stdin")
	}
	return secret, nil
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a secret read from stdin with the configured pepper and cost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			hasher, err := password.NewHasher(cfg.PasswordPepper, cfg.PasswordParams(), 1)
			if err != nil {
				return err
			}
			secret, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(cmd.Context(), secret)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}

func newSweepCmd() *cobra.Command {
	var (
		grace   time.Duration
		enqueue bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired refresh-token records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if enqueue {
				return enqueueJob(cmd, cfg, jobs.TaskRevocationSweep, grace)
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			removed, err := jobs.NewRevocationSweepJob(tokens.NewRevocationStore(pool), logger, nil).Run(cmd.Context(), grace)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d refresh tokens\n", removed)
			return err
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 0, "keep records this long past expiry")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "enqueue the job for the worker instead of running it inline")
	return cmd
}

func newPruneCmd() *cobra.Command {
	var (
		retention time.Duration
		enqueue   bool
	)
	cmd := &cobra.Command{
		Use:   "prune-attempts",
		Short: "Delete login attempts older than the retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if enqueue {
				return enqueueJob(cmd, cfg, jobs.TaskLoginAttemptPrune, retention)
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			job := jobs.NewLoginAttemptPruneJob(lockout.NewAttemptLog(pool), cfg.LoginAttemptRetention, logger, nil)
			removed, err := job.Run(cmd.Context(), retention)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d login attempts\n", removed)
			return err
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "override LOGIN_ATTEMPT_RETENTION")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "enqueue the job for the worker instead of running it inline")
	return cmd
}

func enqueueJob(cmd *cobra.Command, cfg *app.Config, task string, window time.Duration) error {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = jobsCLI.Close() }()
	info, err := jobsCLI.Trigger(cmd.Context(), task, window)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s\n", task, info.ID)
	return err
}

func newSeedCmd() *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the built-in permission catalogue and optionally a platform operator",
		Long: "Upserts the built-in permissions and system roles. With --operator the\n" +
			"operator secret is read from stdin.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.New(ctx, cfg.PGDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			var permissionCache *rbac.Cache
			if redisClient, err := cache.New(ctx, cfg.RedisAddr); err != nil {
				logger.Warn("redis unavailable, cached permissions expire on ttl", slog.Any("error", err))
			} else {
				defer func() { _ = redisClient.Close() }()
				permissionCache = rbac.NewCache(redisClient, cfg.StoreNamespace, cfg.PermissionCacheTTL)
			}

			hasher, err := password.NewHasher(cfg.PasswordPepper, cfg.PasswordParams(), 1)
			if err != nil {
				return err
			}
			seeder := &cli.Seeder{
				RBAC:       rbac.NewService(rbac.NewRepository(pool), permissionCache, logger, rbac.WithMutationTimeout(cfg.StoreTimeout)),
				Principals: principals.NewRepository(pool),
				Hasher:     hasher,
			}
			report, err := seeder.SeedCatalog(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "seeded %d permissions, %d roles\n", report.Permissions, report.Roles)
			if operator == "" {
				return nil
			}
			secret, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			id, created, err := seeder.EnsureOperator(ctx, operator, secret)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(out, "created platform operator %s\n", id)
			} else {
				fmt.Fprintf(out, "platform operator %s already present\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "identity of a platform operator to create")
	return cmd
}

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show maintenance queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer func() { _ = jobsCLI.Close() }()
			stats, err := jobsCLI.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			return err
		},
	}
}
