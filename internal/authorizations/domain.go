package authorizations

import "time"

// Status enumerates authorization lifecycle states.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusExpired   Status = "EXPIRED"
	StatusExhausted Status = "EXHAUSTED"
	StatusSuspended Status = "SUSPENDED"
)

// Authorization grants a client a finite quantity of units of one service
// type for a date range. ConsumedUnits is the materialized counter owned
// exclusively by this package; remaining units are always derived from it.
type Authorization struct {
	ID              int64
	ClientID        int64
	ServiceTypeID   int64
	PayerReference  string
	AuthorizedUnits int
	ConsumedUnits   int
	StartDate       time.Time
	EndDate         time.Time
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RemainingUnits derives the unconsumed balance, never negative.
func (a Authorization) RemainingUnits() int {
	remaining := a.AuthorizedUnits - a.ConsumedUnits
	if remaining < 0 {
		return 0
	}
	return remaining
}

// UtilizationPercent derives consumed/authorized as a percentage.
func (a Authorization) UtilizationPercent() float64 {
	if a.AuthorizedUnits == 0 {
		return 0
	}
	return float64(a.ConsumedUnits) / float64(a.AuthorizedUnits) * 100
}

// Covers reports whether the grant is consumable on the given date.
func (a Authorization) Covers(date time.Time) bool {
	if a.Status != StatusActive {
		return false
	}
	return !date.Before(a.StartDate) && !date.After(a.EndDate)
}

// CreateInput carries fields for issuing a new grant.
type CreateInput struct {
	ClientID        int64
	ServiceTypeID   int64
	PayerReference  string
	AuthorizedUnits int
	StartDate       time.Time
	EndDate         time.Time
}

// StatusSummary is the aggregated view returned to reporting collaborators.
type StatusSummary struct {
	ClientID           int64     `json:"client_id"`
	ServiceTypeID      int64     `json:"service_type_id"`
	AuthorizedUnits    int       `json:"authorized_units"`
	ConsumedUnits      int       `json:"consumed_units"`
	RemainingUnits     int       `json:"remaining_units"`
	UtilizationPercent float64   `json:"utilization_percent"`
	DaysUntilExpiry    int       `json:"days_until_expiry"`
	NextExpiry         time.Time `json:"next_expiry"`
}

// SweepResult reports the outcome of one status sweep.
type SweepResult struct {
	Expired   int
	Exhausted int
}
