package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuthzSweep transitions overdue and drained authorization grants.
	TaskAuthzSweep = "authz:sweep"
	// TaskBillingGenerateBatch bills approved sessions that have no entry yet.
	TaskBillingGenerateBatch = "billing:generate_batch"
	// TaskApprovalsLateScan reports pending items past the lateness threshold.
	TaskApprovalsLateScan = "approvals:late_scan"
)

// AuthzSweepPayload configures one ledger sweep run.
type AuthzSweepPayload struct {
	ExpiryAlertDays int `json:"expiry_alert_days"`
}

// NewAuthzSweepTask constructs the sweep task.
func NewAuthzSweepTask(expiryAlertDays int) (*asynq.Task, error) {
	data, err := json.Marshal(AuthzSweepPayload{ExpiryAlertDays: expiryAlertDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuthzSweep, data), nil
}

// BillingBatchPayload configures one batch billing run. An empty SessionIDs
// slice means every approved session without a billing entry.
type BillingBatchPayload struct {
	SessionIDs []int64 `json:"session_ids,omitempty"`
	Limit      int     `json:"limit,omitempty"`
}

// NewBillingBatchTask constructs the batch billing task.
func NewBillingBatchTask(payload BillingBatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBillingGenerateBatch, data), nil
}

// LateScanPayload configures one late-approval scan.
type LateScanPayload struct {
	Limit int `json:"limit,omitempty"`
}

// NewLateScanTask constructs the late scan task.
func NewLateScanTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(LateScanPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskApprovalsLateScan, data), nil
}
