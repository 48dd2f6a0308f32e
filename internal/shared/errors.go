package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates a reservation larger than the available pool.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicate indicates a uniqueness violation.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrEditBlocked indicates the invoice is frozen by its dispatch.
	ErrEditBlocked = errors.New("invoice has a dispatch and cannot be edited")
	// ErrDeleteBlocked indicates the invoice is frozen by its dispatch.
	ErrDeleteBlocked = errors.New("invoice has a dispatch and cannot be deleted")
	// ErrInvalidTransition indicates a backward dispatch status move.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnauthenticated indicates a missing or invalid bearer token.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError identifies the missing entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(entity string, id int64) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError names the product that could not be reserved.
type InsufficientStockError struct {
	ProductID int64
	Product   string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	name := e.Product
	if name == "" {
		name = fmt.Sprintf("finished good %d", e.ProductID)
	}
	return fmt.Sprintf("insufficient stock for %s: requested %s, available %s",
		name, e.Requested.String(), e.Available.String())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// DuplicateError identifies the violated uniqueness rule.
type DuplicateError struct {
	Entity string
	Field  string
	Value  string
}

func (e *DuplicateError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s with this %s already exists", e.Entity, e.Field)
	}
	return fmt.Sprintf("%s with %s %q already exists", e.Entity, e.Field, e.Value)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }
