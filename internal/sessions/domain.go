package sessions

import "time"

// Session is one delivered service visit. DurationMinutes and BillableUnits
// are computed once at submission from the service type's rounding rules and
// stored, so later rule edits never change historical sessions.
type Session struct {
	ID              int64     `json:"id"`
	ClientID        int64     `json:"client_id"`
	EmployeeID      int64     `json:"employee_id"`
	ServiceTypeID   int64     `json:"service_type_id"`
	StartAt         time.Time `json:"start_at"`
	EndAt           time.Time `json:"end_at"`
	DurationMinutes float64   `json:"duration_minutes"`
	BillableUnits   int       `json:"billable_units"`
	Narrative       string    `json:"narrative"`
	ApprovalStatus  string    `json:"approval_status"`
	// NeedsReview marks sessions that rounded to zero units. They are kept
	// and queued for approval rather than silently dropped.
	NeedsReview bool `json:"needs_review"`
	// OverDailyCap marks sessions that push the client past the service
	// type's daily unit cap. The flag is advisory; units are never clipped.
	OverDailyCap bool      `json:"over_daily_cap"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SubmitInput carries a staff member's session submission.
type SubmitInput struct {
	ClientID      int64     `json:"client_id" validate:"required"`
	ServiceTypeID int64     `json:"service_type_id" validate:"required"`
	StartAt       time.Time `json:"start_at" validate:"required"`
	EndAt         time.Time `json:"end_at" validate:"required"`
	Narrative     string    `json:"narrative" validate:"required"`
}

// AmendInput carries edits to a session awaiting approval or revision.
type AmendInput struct {
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Narrative string    `json:"narrative"`
}

// ListFilter narrows session listings.
type ListFilter struct {
	ClientID      int64
	EmployeeID    int64
	ServiceTypeID int64
	From          time.Time
	To            time.Time
	Limit         int
	Offset        int
}
