package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action enumerates audited actions.
type Action string

const (
	ActionInsert  Action = "INSERT"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionView    Action = "VIEW"
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

// Entry is one immutable audit record. Entries are appended exactly once per
// mutating action and never edited or removed afterwards.
type Entry struct {
	ID         int64
	Kind       string
	RecordID   string
	Action     Action
	OldValue   map[string]any
	NewValue   map[string]any
	ActorID    int64
	ActorName  string
	BatchID    uuid.UUID
	ClientAddr string
	At         time.Time
}

// Filter narrows audit queries.
type Filter struct {
	Kind     string
	RecordID string
	ActorID  int64
	Action   Action
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}
