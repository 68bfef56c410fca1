package billing

import "time"

// Entry is one billable line produced from an approved session. Units, rate,
// and total are frozen at generation time; the approval status mirrors the
// entry's position in the claims chain.
type Entry struct {
	ID              int64      `json:"id"`
	SessionID       int64      `json:"session_id"`
	ClientID        int64      `json:"client_id"`
	ServiceTypeID   int64      `json:"service_type_id"`
	AuthorizationID *int64     `json:"authorization_id,omitempty"`
	Units           int        `json:"units"`
	RatePerUnit     float64    `json:"rate_per_unit"`
	TotalAmount     float64    `json:"total_amount"`
	ApprovalStatus  string     `json:"approval_status"`
	DisputeReason   string     `json:"dispute_reason,omitempty"`
	ServiceDate     time.Time  `json:"service_date"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	VoidedAt        *time.Time `json:"voided_at,omitempty"`
}

// ListFilter narrows billing entry listings.
type ListFilter struct {
	ClientID      int64
	ServiceTypeID int64
	Status        string
	From          time.Time
	To            time.Time
	Limit         int
	Offset        int
}

// BatchResult summarizes one generation run over many sessions.
type BatchResult struct {
	Generated int     `json:"generated"`
	Disputed  int     `json:"disputed"`
	Skipped   int     `json:"skipped"`
	Failed    []int64 `json:"failed,omitempty"`
}
