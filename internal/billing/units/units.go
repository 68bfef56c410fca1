// Package units converts raw service-delivery minutes into billable units
// according to per-service-type rounding rules.
package units

import (
	"errors"
	"fmt"
	"math"
)

// Rules holds the rounding configuration of one service type.
type Rules struct {
	IncrementMinutes         int
	MinimumBillableMinutes   int
	RoundingThresholdMinutes int
}

// DefaultRules returns the regulator defaults: 15-minute units, 5-minute
// billing floor, 8-minute round-up threshold.
func DefaultRules() Rules {
	return Rules{
		IncrementMinutes:         15,
		MinimumBillableMinutes:   5,
		RoundingThresholdMinutes: 8,
	}
}

// ErrNegativeDuration indicates a negative duration was supplied.
var ErrNegativeDuration = errors.New("units: duration must not be negative")

// Validate checks the rule invariant 0 < minimum <= threshold < increment.
func (r Rules) Validate() error {
	if r.MinimumBillableMinutes <= 0 {
		return fmt.Errorf("units: minimum billable minutes must be positive, got %d", r.MinimumBillableMinutes)
	}
	if r.RoundingThresholdMinutes < r.MinimumBillableMinutes {
		return fmt.Errorf("units: rounding threshold %d below minimum billable %d", r.RoundingThresholdMinutes, r.MinimumBillableMinutes)
	}
	if r.IncrementMinutes <= r.RoundingThresholdMinutes {
		return fmt.Errorf("units: increment %d must exceed rounding threshold %d", r.IncrementMinutes, r.RoundingThresholdMinutes)
	}
	return nil
}

// UnitsFor converts a duration in minutes to whole billable units.
//
// The remainder past the last whole increment is dropped when it is under the
// rounding threshold and rounded up to one extra unit at or above it. A zero
// result means the session is non-billable; callers must flag it for review
// rather than bill it at zero.
func UnitsFor(durationMinutes float64, r Rules) (int, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	if durationMinutes < 0 {
		return 0, ErrNegativeDuration
	}
	increment := float64(r.IncrementMinutes)
	whole := int(math.Floor(durationMinutes / increment))
	remainder := durationMinutes - float64(whole)*increment
	if remainder < float64(r.MinimumBillableMinutes) {
		return whole, nil
	}
	if remainder >= float64(r.RoundingThresholdMinutes) {
		return whole + 1, nil
	}
	return whole, nil
}

// ExceedsDailyCap reports whether billing extra units on top of the units
// already billed for the day would cross the service type's daily cap. A nil
// cap means no limit. Callers flag the overflow; units are never clipped here.
func ExceedsDailyCap(alreadyBilled, extra int, cap *int) bool {
	if cap == nil {
		return false
	}
	return alreadyBilled+extra > *cap
}
