// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var validation *shared.ValidationError
	switch {
	case errors.As(err, &validation):
		ProblemWith(w, http.StatusBadRequest, "Validation Failed", err.Error(), map[string]any{"field": validation.Field})
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		var stockErr *shared.InsufficientStockError
		if errors.As(err, &stockErr) {
			ProblemWith(w, http.StatusConflict, "Insufficient Stock", err.Error(), map[string]any{
				"finished_good_id": stockErr.ProductID,
				"requested":        stockErr.Requested.String(),
				"available":        stockErr.Available.String(),
			})
			return
		}
		Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict), errors.Is(err, shared.ErrIdempotencyKeyReuse):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrEditBlocked):
		Problem(w, http.StatusConflict, "Edit Blocked", err.Error())
	case errors.Is(err, shared.ErrDeleteBlocked):
		Problem(w, http.StatusConflict, "Delete Blocked", err.Error())
	case errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusUnprocessableEntity, "Invalid Transition", err.Error())
	case errors.Is(err, shared.ErrUnauthenticated):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

var clientErrors = []error{
	shared.ErrValidation, shared.ErrNotFound, shared.ErrInsufficientStock, shared.ErrDuplicate,
	shared.ErrEditBlocked, shared.ErrDeleteBlocked, shared.ErrInvalidTransition, shared.ErrUnauthenticated,
	shared.ErrIdempotencyConflict, shared.ErrIdempotencyKeyReuse,
}

// IsClientError reports whether err maps to a 4xx response.
func IsClientError(err error) bool {
	for _, known := range clientErrors {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}
