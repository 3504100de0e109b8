package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-auth/internal/app"
	"github.com/odyssey-erp/odyssey-auth/internal/auth"
	"github.com/odyssey-erp/odyssey-auth/internal/lockout"
	"github.com/odyssey-erp/odyssey-auth/internal/observability"
	"github.com/odyssey-erp/odyssey-auth/internal/password"
	"github.com/odyssey-erp/odyssey-auth/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-auth/internal/platform/db"
	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/sessions"
	"github.com/odyssey-erp/odyssey-auth/internal/tenancy"
	"github.com/odyssey-erp/odyssey-auth/internal/tokens"
	"github.com/odyssey-erp/odyssey-auth/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	hasher, err := password.NewHasher(cfg.PasswordPepper, cfg.PasswordParams(), cfg.PasswordHashWorkers)
	if err != nil {
		logger.Error("init password hasher", slog.Any("error", err))
		os.Exit(1)
	}

	attemptLog := lockout.NewAttemptLog(dbpool)
	lockoutGuard := lockout.NewGuard(redisClient, cfg.StoreNamespace, cfg.LockoutPolicy(),
		lockout.WithAttemptLog(attemptLog),
		lockout.WithLogger(logger),
		lockout.WithStoreTimeout(cfg.StoreTimeout),
	)

	revocations := tokens.NewRevocationStore(dbpool)
	tokenService, err := tokens.NewService([]byte(cfg.TokenSigningSecret), revocations,
		tokens.WithAccessTTL(cfg.AccessTokenTTL),
		tokens.WithRefreshTTL(cfg.RefreshTokenTTL),
		tokens.WithIssuer(cfg.TokenIssuer),
		tokens.WithStoreTimeout(cfg.StoreTimeout),
		tokens.WithLogger(logger),
	)
	if err != nil {
		logger.Error("init token service", slog.Any("error", err))
		os.Exit(1)
	}

	sessionManager, err := sessions.NewManager(redisClient, cfg.StoreNamespace, []byte(cfg.SessionSecret),
		sessions.WithIdleTimeout(cfg.SessionIdleTimeout),
		sessions.WithMaxLifetime(cfg.SessionMaxLifetime),
		sessions.WithLogger(logger),
		sessions.WithStoreTimeout(cfg.StoreTimeout),
	)
	if err != nil {
		logger.Error("init session manager", slog.Any("error", err))
		os.Exit(1)
	}

	tenantGuard := tenancy.NewGuard(logger)
	rbacRepo := rbac.NewRepository(dbpool)
	permissionCache := rbac.NewCache(redisClient, cfg.StoreNamespace, cfg.PermissionCacheTTL)
	resolver := rbac.NewResolver(rbacRepo, tenantGuard,
		rbac.WithCache(permissionCache),
		rbac.WithResolverLogger(logger),
		rbac.WithStoreTimeout(cfg.StoreTimeout),
	)
	rbacService := rbac.NewService(rbacRepo, permissionCache, logger, rbac.WithMutationTimeout(cfg.StoreTimeout))
	rbacMiddleware := rbac.Middleware{Resolver: resolver, Logger: logger}

	principalRepo := principals.NewRepository(dbpool)
	gateway, err := auth.NewGateway(ctx, principalRepo, hasher, lockoutGuard, tokenService, sessionManager,
		auth.WithObserver(metrics),
		auth.WithGatewayLogger(logger),
		auth.WithStoreTimeout(cfg.StoreTimeout),
	)
	if err != nil {
		logger.Error("init auth gateway", slog.Any("error", err))
		os.Exit(1)
	}
	authMiddleware := auth.NewMiddleware(tokenService, sessionManager, cfg.SessionCookieName, metrics, logger)
	authHandler := auth.NewHandler(logger, gateway, resolver, authMiddleware, auth.CookieConfig{
		Name:   cfg.SessionCookieName,
		Secure: cfg.IsProduction(),
		MaxAge: cfg.SessionMaxLifetime,
	}, cfg.LoginRateLimit)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthHandler:        authHandler,
		AuthMiddleware:     authMiddleware,
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		RBACAdminHandler:   rbac.NewAdminHandler(logger, rbacService, rbacMiddleware, principalRepo),
		PrincipalAdmin:     auth.NewAdminHandler(logger, gateway, rbacMiddleware),
		RBACMiddleware:     &rbacMiddleware,
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
