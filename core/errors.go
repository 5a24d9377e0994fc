/*
errors.go - Error kinds for the fulfillment engine

PURPOSE:
  Every operation reports failure through one of a small set of kinds so the
  calling layer can decide what to show the user without parsing messages.

ERROR KINDS:
  1. ValidationError  - bad input, nothing was written
  2. ConflictError    - quantity already committed to a pick (user-recoverable)
  3. ConsistencyError - ledger or quantity mismatch, aborts the transaction
  4. CollaboratorError - inventory or tax service failure, transaction rolled back
  5. ErrNotFound       - referenced entity does not exist

USAGE:
  Match kinds with errors.Is on the sentinels, or errors.As for details:

    var ce *core.ConsistencyError
    if errors.As(err, &ce) {
        log.Error("imbalance", zap.String("expected", ce.Expected.String()))
    }

SEE ALSO:
  - api/handlers.go: Maps kinds to HTTP status codes
*/
package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrConsistency  = errors.New("consistency violation")
	ErrCollaborator = errors.New("collaborator failure")
	ErrNotFound     = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports bad input. No mutation has been performed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is a shorthand constructor for ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports that an allocation is already committed to a pick.
// It matches both ErrConflict and ErrValidation.
type ConflictError struct {
	OrderID        OrderID
	OrderItemSeqID OrderItemSeqID
	ShipGroupSeqID ShipGroupSeqID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %s item %s in ship group %s is already picked",
		e.OrderID, e.OrderItemSeqID, e.ShipGroupSeqID)
}

func (e *ConflictError) Unwrap() []error { return []error{ErrConflict, ErrValidation} }

// ConsistencyError reports a programming or data-corruption fault.
// It is never retried.
type ConsistencyError struct {
	OrderID         OrderID
	OrderItemSeqID  OrderItemSeqID
	InventoryItemID InventoryItemID
	Expected        decimal.Decimal
	Actual          decimal.Decimal
	Message         string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency: %s (order %s item %s inventory %s: expected %s, got %s)",
		e.Message, e.OrderID, e.OrderItemSeqID, e.InventoryItemID, e.Expected, e.Actual)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }

// CollaboratorError wraps a failure from an external service.
type CollaboratorError struct {
	Service string
	Op      string
	Err     error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Service, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() []error { return []error{ErrCollaborator, e.Err} }

// NotFound builds an ErrNotFound wrapping error for the given entity.
func NotFound(entity string, key any) error {
	return fmt.Errorf("%s %v: %w", entity, key, ErrNotFound)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindValidation   ErrorKind = "validation"
	KindConflict     ErrorKind = "conflict"
	KindConsistency  ErrorKind = "consistency"
	KindCollaborator ErrorKind = "collaborator"
	KindNotFound     ErrorKind = "not_found"
	KindInternal     ErrorKind = "internal"
)

// KindOf classifies err. Conflict is checked before validation since a
// ConflictError matches both, and a collaborator failure wins over whatever
// cause it wraps.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrCollaborator):
		return KindCollaborator
	case errors.Is(err, ErrConsistency):
		return KindConsistency
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// IsClientError returns true if the error is due to caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
// Consistency faults never qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCollaborator) && !errors.Is(err, ErrConsistency)
}
