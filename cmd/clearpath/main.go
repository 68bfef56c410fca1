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

	"github.com/clearpath-care/clearpath/internal/app"
	"github.com/clearpath-care/clearpath/internal/approvals"
	"github.com/clearpath-care/clearpath/internal/audit"
	"github.com/clearpath-care/clearpath/internal/authorizations"
	"github.com/clearpath-care/clearpath/internal/billing"
	"github.com/clearpath-care/clearpath/internal/observability"
	"github.com/clearpath-care/clearpath/internal/platform/cache"
	"github.com/clearpath-care/clearpath/internal/platform/db"
	"github.com/clearpath-care/clearpath/internal/servicetypes"
	"github.com/clearpath-care/clearpath/internal/sessions"
	"github.com/clearpath-care/clearpath/internal/shared"
	"github.com/clearpath-care/clearpath/jobs"
)

type typesAuthzAdapter struct {
	types *servicetypes.Service
}

func (a typesAuthzAdapter) RequiresAuthorization(ctx context.Context, serviceTypeID int64) (bool, error) {
	st, err := a.types.Get(ctx, serviceTypeID)
	if err != nil {
		return false, err
	}
	return st.RequiresAuthorization, nil
}

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
		logger.Warn("redis unavailable, status cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	typesRepo := servicetypes.NewRepository(dbpool)
	typesService := servicetypes.NewService(typesRepo)
	typesHandler := servicetypes.NewHandler(logger, typesService)

	authzRepo := authorizations.NewRepository(dbpool)
	authzService := authorizations.NewService(authzRepo, typesAuthzAdapter{types: typesService}, logger)
	authzCache := authorizations.NewStatusCache(authzService, redisClient, cfg.AuthzStatusTTL, logger)
	authzService.SetStatusInvalidator(authzCache)
	authzHandler := authorizations.NewHandler(logger, authzService, authzCache)

	sessionsRepo := sessions.NewRepository(dbpool)
	sessionsService := sessions.NewService(sessionsRepo, typesService, logger)
	sessionsHandler := sessions.NewHandler(logger, sessionsService)

	approvalsRepo := approvals.NewRepository(dbpool)
	approvalsService := approvals.NewService(approvalsRepo, metrics, logger, cfg.ApprovalLateAfter)
	approvalsHandler := approvals.NewHandler(logger, approvalsService)

	billingRepo := billing.NewRepository(dbpool)
	billingService := billing.NewService(billingRepo, sessionsService, typesService, authzService, metrics, logger)
	billingHandler := billing.NewHandler(logger, billingService, idempotencyStore)

	auditRepo := audit.NewRepository(dbpool)
	auditService := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(logger, auditService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:                logger,
		Config:                cfg,
		ServiceTypesHandler:   typesHandler,
		SessionsHandler:       sessionsHandler,
		ApprovalsHandler:      approvalsHandler,
		AuthorizationsHandler: authzHandler,
		BillingHandler:        billingHandler,
		AuditHandler:          auditHandler,
		JobHandler:            jobHandler,
		Metrics:               metrics,
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
