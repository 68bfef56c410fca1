package approvals

import (
	"time"

	"github.com/google/uuid"
)

// ItemKind enumerates the closed set of record kinds that pass through the
// approval state machine. New kinds require a code change; there is no
// runtime registration.
type ItemKind string

const (
	KindSessionNote    ItemKind = "session_note"
	KindTimeEntry      ItemKind = "time_entry"
	KindScheduleChange ItemKind = "schedule_change"
	KindTimeOffRequest ItemKind = "time_off_request"
	KindBillingEntry   ItemKind = "billing_entry"
)

// Kinds lists every approvable kind.
var Kinds = []ItemKind{KindSessionNote, KindTimeEntry, KindScheduleChange, KindTimeOffRequest, KindBillingEntry}

// Status enumerates approval states.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusApproved          Status = "APPROVED"
	StatusRevisionRequested Status = "REVISION_REQUESTED"
	StatusRejected          Status = "REJECTED"
	StatusBilled            Status = "BILLED"
	StatusPaid              Status = "PAID"
	StatusDisputed          Status = "DISPUTED"
)

// Action enumerates the reviewer actions of a batch.
type Action string

const (
	ActionApprove         Action = "APPROVE"
	ActionReject          Action = "REJECT"
	ActionRequestRevision Action = "REQUEST_REVISION"
)

// Item is one entry in the approval queue. RecordID is the natural key into
// the kind's own table; the queue row carries only the shared projection.
type Item struct {
	ID                int64      `json:"id"`
	Kind              ItemKind   `json:"kind"`
	RecordID          int64      `json:"record_id"`
	Status            Status     `json:"status"`
	OwnerID           int64      `json:"owner_id"`
	OwnerName         string     `json:"owner_name"`
	Summary           string     `json:"summary"`
	SupervisorComment string     `json:"supervisor_comment,omitempty"`
	SubmittedAt       time.Time  `json:"submitted_at"`
	DecidedAt         *time.Time `json:"decided_at,omitempty"`
	Late              bool       `json:"late"`
}

// ItemRef addresses one queue item by kind and record.
type ItemRef struct {
	Kind     ItemKind `json:"kind"`
	RecordID int64    `json:"record_id"`
}

// BatchInput carries one reviewBatch call.
type BatchInput struct {
	Refs []ItemRef
	// Action applies to every item in the batch.
	Action Action
	// Signature must equal the acting user's canonical display name. This is
	// a typed-name attestation, not a cryptographic signature, and is not a
	// security boundary.
	Signature string
	Comment   string
	// Reasons maps refs (by index) to a per-item reason, mandatory for
	// reject and request-revision actions.
	Reasons []string
}

// ItemResult reports the outcome for one ref in a batch.
type ItemResult struct {
	Ref   ItemRef `json:"ref"`
	OK    bool    `json:"ok"`
	Error string  `json:"error,omitempty"`
}

// BatchResult reports a whole batch. When Applied is false no item was
// mutated; Results names the offending items.
type BatchResult struct {
	BatchID uuid.UUID    `json:"batch_id"`
	Applied bool         `json:"applied"`
	Results []ItemResult `json:"results"`
}

// StatusChange is one transition the repository applies atomically with its
// audit entry.
type StatusChange struct {
	Ref       ItemRef
	From      Status
	To        Status
	Comment   string
	DecidedAt time.Time
}

// ListFilter narrows the pending queue.
type ListFilter struct {
	Kinds   []ItemKind
	OwnerID int64
	Status  Status
	From    time.Time
	To      time.Time
	Limit   int
	Offset  int
}
