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
	"golang.org/x/sync/errgroup"

	"github.com/aegis-platform/aegis-iam/internal/app"
	"github.com/aegis-platform/aegis-iam/internal/authz"
	"github.com/aegis-platform/aegis-iam/internal/identity"
	"github.com/aegis-platform/aegis-iam/internal/observability"
	"github.com/aegis-platform/aegis-iam/internal/permissions"
	"github.com/aegis-platform/aegis-iam/internal/platform/cache"
	"github.com/aegis-platform/aegis-iam/internal/platform/db"
	"github.com/aegis-platform/aegis-iam/internal/roles"
	"github.com/aegis-platform/aegis-iam/internal/sessions"
	"github.com/aegis-platform/aegis-iam/internal/shared"
	"github.com/aegis-platform/aegis-iam/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	auditLogger := shared.NewAuditLogger(pool)
	throttle := shared.NewLoginThrottle(redisClient, cfg.LoginThrottleLimit, cfg.LoginThrottleWindow)

	permissionRepo := permissions.NewRepository(pool)
	permissionService := permissions.NewService(permissionRepo, auditLogger)

	roleRepo := roles.NewRepository(pool)
	roleService := roles.NewService(roleRepo, permissionService, auditLogger)

	sessionRepo := sessions.NewRepository(pool)
	tokenCodec := sessions.NewTokenCodec(cfg.TokenSecret, cfg.TokenTTL)
	sessionManager := sessions.NewManager(logger, sessionRepo, tokenCodec, cfg.MaxSessionsPerUser)

	identityRepo := identity.NewRepository(pool)
	identityService := identity.NewService(logger, identityRepo, roleService, sessionManager, throttle, auditLogger, identity.Options{
		BcryptCost:                     cfg.BcryptCost,
		RevokeSessionsOnPasswordChange: cfg.RevokeSessionsOnPasswordChange,
	})

	metrics := observability.NewMetrics()

	engine := authz.NewEngine(logger, sessionManager, identityService, roleRepo, metrics)
	authzMiddleware := authz.Middleware{Engine: engine, Logger: logger}

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect job queue", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("job queue close", slog.Any("error", err))
		}
	}()

	identityHandler := identity.NewHandler(logger, identityService, sessionManager, authzMiddleware, metrics)
	roleHandler := roles.NewHandler(logger, roleService, authzMiddleware)
	permissionHandler := permissions.NewHandler(logger, permissionService, authzMiddleware)
	jobsHandler := jobs.NewHandler(logger, jobsClient, authzMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		IdentityHandler:    identityHandler,
		RolesHandler:       roleHandler,
		PermissionsHandler: permissionHandler,
		JobsHandler:        jobsHandler,
		AuthzMiddleware:    authzMiddleware,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
