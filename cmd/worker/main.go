package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/clearpath-care/clearpath/internal/app"
	"github.com/clearpath-care/clearpath/internal/approvals"
	"github.com/clearpath-care/clearpath/internal/authorizations"
	"github.com/clearpath-care/clearpath/internal/billing"
	"github.com/clearpath-care/clearpath/internal/platform/db"
	"github.com/clearpath-care/clearpath/internal/servicetypes"
	"github.com/clearpath-care/clearpath/internal/sessions"
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

	typesRepo := servicetypes.NewRepository(pool)
	typesService := servicetypes.NewService(typesRepo)

	authzRepo := authorizations.NewRepository(pool)
	authzService := authorizations.NewService(authzRepo, typesAuthzAdapter{types: typesService}, logger)

	sessionsRepo := sessions.NewRepository(pool)
	sessionsService := sessions.NewService(sessionsRepo, typesService, logger)

	approvalsRepo := approvals.NewRepository(pool)
	approvalsService := approvals.NewService(approvalsRepo, nil, logger, cfg.ApprovalLateAfter)

	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billingRepo, sessionsService, typesService, authzService, nil, logger)

	sweepJob := jobs.NewAuthzSweepJob(authzService, logger)
	batchJob := jobs.NewBillingBatchJob(billingService, pool, logger)
	lateJob := jobs.NewLateScanJob(approvalsService, logger)

	sweepTask, err := jobs.NewAuthzSweepTask(cfg.AuthzExpiryAlertDays)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	batchTask, err := jobs.NewBillingBatchTask(jobs.BillingBatchPayload{})
	if err != nil {
		logger.Error("build billing batch task", slog.Any("error", err))
		os.Exit(1)
	}
	lateTask, err := jobs.NewLateScanTask(0)
	if err != nil {
		logger.Error("build late scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuthzSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskBillingGenerateBatch, Handler: batchJob.Handle},
			{Type: jobs.TaskApprovalsLateScan, Handler: lateJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * *", Task: batchTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "15 * * * *", Task: lateTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
