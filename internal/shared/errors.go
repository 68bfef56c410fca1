package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a missing or malformed field.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized indicates a signature or authority mismatch.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrIllegalTransition indicates a status transition the state machine forbids.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrInsufficientUnits indicates an authorization has too few units remaining.
	ErrInsufficientUnits = errors.New("insufficient authorized units")
	// ErrNoActiveAuthorization indicates no covering grant exists for a service
	// type that requires one.
	ErrNoActiveAuthorization = errors.New("no active authorization")
	// ErrConcurrencyConflict indicates lock contention exceeded the retry budget.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("duplicate entry")
)
