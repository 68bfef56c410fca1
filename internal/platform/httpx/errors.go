// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/clearpath-care/clearpath/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusForbidden, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrIllegalTransition):
		Problem(w, http.StatusConflict, "Illegal Transition", err.Error())
	case errors.Is(err, shared.ErrInsufficientUnits):
		Problem(w, http.StatusConflict, "Insufficient Units", err.Error())
	case errors.Is(err, shared.ErrNoActiveAuthorization):
		Problem(w, http.StatusUnprocessableEntity, "No Active Authorization", err.Error())
	case errors.Is(err, shared.ErrConcurrencyConflict):
		Problem(w, http.StatusConflict, "Concurrency Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
