package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearpath-care/clearpath/internal/billing"
	"github.com/clearpath-care/clearpath/internal/shared"
)

// systemActor attributes job-initiated mutations in the audit log.
var systemActor = shared.Actor{ID: 0, DisplayName: "system", Role: "system"}

// BillingBatchJob bills approved sessions that have no billing entry yet.
type BillingBatchJob struct {
	Billing *billing.Service
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
}

// NewBillingBatchJob initialises the batch billing handler.
func NewBillingBatchJob(billingService *billing.Service, pool *pgxpool.Pool, logger *slog.Logger) *BillingBatchJob {
	return &BillingBatchJob{Billing: billingService, Pool: pool, Logger: logger}
}

// Handle executes one batch run.
func (j *BillingBatchJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Billing == nil {
		return errors.New("billing batch: handler not configured")
	}
	var payload BillingBatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	sessionIDs := payload.SessionIDs
	if len(sessionIDs) == 0 {
		ids, err := j.unbilledSessions(ctx, payload.Limit)
		if err != nil {
			j.Logger.Error("unbilled session lookup failed", slog.Any("error", err))
			return err
		}
		sessionIDs = ids
	}
	if len(sessionIDs) == 0 {
		j.Logger.Info("billing batch: nothing to bill")
		return nil
	}

	result, err := j.Billing.GenerateBatch(ctx, systemActor, sessionIDs)
	if err != nil {
		j.Logger.Error("billing batch failed", slog.Any("error", err))
		return err
	}
	j.Logger.Info("billing batch finished",
		slog.Int("candidates", len(sessionIDs)),
		slog.Int("generated", result.Generated),
		slog.Int("disputed", result.Disputed),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", len(result.Failed)))
	return nil
}

func (j *BillingBatchJob) unbilledSessions(ctx context.Context, limit int) ([]int64, error) {
	if j.Pool == nil {
		return nil, errors.New("billing batch: no database pool")
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := j.Pool.Query(ctx, `SELECT s.id FROM sessions s
LEFT JOIN billing_entries be ON be.session_id = s.id
WHERE s.approval_status = 'APPROVED' AND be.id IS NULL
ORDER BY s.start_at ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
