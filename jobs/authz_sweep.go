package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/clearpath-care/clearpath/internal/authorizations"
)

// AuthzSweepJob runs the nightly ledger sweep and logs grants that are about
// to expire or run out of units.
type AuthzSweepJob struct {
	Ledger *authorizations.Service
	Logger *slog.Logger
	clock  func() time.Time
}

// NewAuthzSweepJob initialises the sweep handler.
func NewAuthzSweepJob(ledger *authorizations.Service, logger *slog.Logger) *AuthzSweepJob {
	return &AuthzSweepJob{
		Ledger: ledger,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sweep.
func (j *AuthzSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("authz sweep: handler not configured")
	}
	var payload AuthzSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.ExpiryAlertDays <= 0 {
		payload.ExpiryAlertDays = 30
	}

	now := j.clock()
	result, err := j.Ledger.Sweep(ctx, now)
	if err != nil {
		j.Logger.Error("authorization sweep failed", slog.Any("error", err))
		return err
	}

	expiring, err := j.Ledger.ExpiringWithin(ctx, payload.ExpiryAlertDays)
	if err != nil {
		j.Logger.Warn("expiring grants lookup failed", slog.Any("error", err))
	}
	for _, auth := range expiring {
		j.Logger.Warn("authorization expiring soon",
			slog.Int64("authorization_id", auth.ID),
			slog.Int64("client_id", auth.ClientID),
			slog.Time("end_date", auth.EndDate),
			slog.Int("remaining_units", auth.RemainingUnits()))
	}

	highUtil, err := j.Ledger.HighUtilization(ctx, 0)
	if err != nil {
		j.Logger.Warn("high utilization lookup failed", slog.Any("error", err))
	}
	for _, auth := range highUtil {
		j.Logger.Warn("authorization nearly exhausted",
			slog.Int64("authorization_id", auth.ID),
			slog.Int64("client_id", auth.ClientID),
			slog.Float64("utilization_percent", auth.UtilizationPercent()))
	}

	j.Logger.Info("authorization sweep finished",
		slog.Int("expired", result.Expired),
		slog.Int("exhausted", result.Exhausted),
		slog.Int("expiring_soon", len(expiring)))
	return nil
}
