package servicetypes

import (
	"time"

	"github.com/clearpath-care/clearpath/internal/billing/units"
)

// ServiceType identifies one billable service and its rounding rules. Rules
// become immutable once billing entries exist against the type; rate changes
// are appended as new effective-dated rows instead of in-place edits.
type ServiceType struct {
	ID                    int64
	BillingCode           string
	Name                  string
	Rules                 units.Rules
	MaxDailyUnits         *int
	RequiresAuthorization bool
	Active                bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Rate is one effective-dated rate row for a service type.
type Rate struct {
	ID            int64
	ServiceTypeID int64
	RatePerUnit   float64
	EffectiveFrom time.Time
	CreatedAt     time.Time
}

// CreateInput carries fields for creating a service type.
type CreateInput struct {
	BillingCode           string
	Name                  string
	Rules                 units.Rules
	MaxDailyUnits         *int
	RequiresAuthorization bool
	RatePerUnit           float64
	EffectiveFrom         time.Time
}

// UpdateInput carries mutable fields. Rules may only change while nothing has
// been billed against the type.
type UpdateInput struct {
	Name          string
	Rules         units.Rules
	MaxDailyUnits *int
	Active        bool
}
