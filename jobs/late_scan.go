package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/clearpath-care/clearpath/internal/approvals"
)

// LateScanJob logs pending approval items stuck past the lateness threshold
// so supervisors get a daily nudge.
type LateScanJob struct {
	Approvals *approvals.Service
	Logger    *slog.Logger
}

// NewLateScanJob initialises the late scan handler.
func NewLateScanJob(approvalsService *approvals.Service, logger *slog.Logger) *LateScanJob {
	return &LateScanJob{Approvals: approvalsService, Logger: logger}
}

// Handle executes the scan.
func (j *LateScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Approvals == nil {
		return errors.New("late scan: handler not configured")
	}
	var payload LateScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Limit <= 0 {
		payload.Limit = 500
	}

	items, err := j.Approvals.ListPending(ctx, approvals.ListFilter{Limit: payload.Limit})
	if err != nil {
		j.Logger.Error("late scan failed", slog.Any("error", err))
		return err
	}

	late := 0
	byKind := make(map[approvals.ItemKind]int)
	for _, item := range items {
		if !item.Late {
			continue
		}
		late++
		byKind[item.Kind]++
	}
	if late == 0 {
		j.Logger.Info("late scan: no overdue approvals")
		return nil
	}
	for kind, count := range byKind {
		j.Logger.Warn("approvals overdue",
			slog.String("kind", string(kind)),
			slog.Int("count", count))
	}
	j.Logger.Info("late scan finished",
		slog.Int("pending", len(items)),
		slog.Int("late", late))
	return nil
}
