/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure the engine reports is local and recoverable: callers match
  the sentinel with errors.Is and read context (entity id, current state)
  from the structured error with errors.As.

ERROR CATEGORIES:
  1. Authorization   - ErrNotAuthorized
  2. State conflicts - ErrAlreadyDecided, ErrRequestAlreadyClosed,
                       ErrTooLateToCancel, ErrMonthNotEditable, ErrInvalidTransition
  3. Validation      - ErrMissingReason, ErrInvalidInput, ErrOverlappingDelegation,
                       ErrDuplicateAdjustment, ErrInsufficientBalance
  4. Data integrity  - ErrCycleDetected (halts the operation, never guessed around)
  5. Concurrency     - ErrConcurrentModification (the only retried class)
  6. Lookup          - ErrNotFound

USAGE:
  if errors.Is(err, generic.ErrInsufficientBalance) {
      var ibe *generic.InsufficientBalanceError
      errors.As(err, &ibe) // ibe.Available, ibe.Requested
  }

SEE ALSO:
  - retry.go: Retries ErrConcurrentModification
  - api/handlers.go: Maps these errors to HTTP statuses
*/
package generic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotAuthorized is returned when the actor is not the effective
	// approver for a step (or not allowed to cancel a request).
	ErrNotAuthorized = errors.New("not authorized")

	// ErrAlreadyDecided is returned when acting on a step that is no longer pending.
	ErrAlreadyDecided = errors.New("step already decided")

	// ErrRequestAlreadyClosed is returned when acting on a request whose
	// final status is already terminal.
	ErrRequestAlreadyClosed = errors.New("request already closed")

	// ErrTooLateToCancel is returned when a request can no longer be cancelled.
	ErrTooLateToCancel = errors.New("too late to cancel")

	// ErrInsufficientBalance is returned when a leave bucket cannot cover a deduction.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOverlappingDelegation is returned when a delegator already has an
	// active delegation covering part of the requested window.
	ErrOverlappingDelegation = errors.New("overlapping delegation")

	// ErrCycleDetected is returned when the manager hierarchy loops.
	ErrCycleDetected = errors.New("manager hierarchy cycle detected")

	// ErrMonthNotEditable is returned when a payroll month is not in the
	// state required by the operation.
	ErrMonthNotEditable = errors.New("payroll month not editable")

	// ErrMissingReason is returned when an administrative action omits its reason.
	ErrMissingReason = errors.New("reason is required")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed or out-of-range input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateAdjustment is returned when a second active one-time
	// allowance/deduction of the same category is added for the same month.
	ErrDuplicateAdjustment = errors.New("duplicate one-time adjustment for month")

	// ErrInvalidTransition is returned when a lifecycle transition is not
	// allowed from the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StateError reports a rejected operation along with the entity it targeted
// and the state the entity was in.
type StateError struct {
	Op         string // e.g. "approve_step", "generate_payroll"
	EntityType string
	EntityID   string
	State      string
	Detail     string
	Err        error // sentinel
}

func (e *StateError) Error() string {
	msg := fmt.Sprintf("%s %s %s: %v (state: %s)", e.Op, e.EntityType, e.EntityID, e.Err, e.State)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *StateError) Unwrap() error { return e.Err }

// NewStateError is a shorthand used by the state machines.
func NewStateError(err error, op, entityType, entityID, state string) *StateError {
	return &StateError{Op: op, EntityType: entityType, EntityID: entityID, State: state, Err: err}
}

// WithDetail returns a copy carrying a human-readable detail.
func (e *StateError) WithDetail(format string, args ...any) *StateError {
	cp := *e
	cp.Detail = fmt.Sprintf(format, args...)
	return &cp
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID string
	LeaveType  string
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance for %s: available %s, requested %s",
		e.LeaveType, e.EmployeeID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// CycleError carries the traversal path that revisited an identifier.
type CycleError struct {
	EmployeeID string
	Path       []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("manager hierarchy cycle detected from %s: %s",
		e.EmployeeID, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// NotFoundError names the missing record.
type NotFoundError struct {
	EntityType string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.EntityType, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound is a shorthand for stores.
func NewNotFound(entityType, id string) error {
	return &NotFoundError{EntityType: entityType, ID: id}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrMissingReason) ||
		errors.Is(err, ErrOverlappingDelegation) ||
		errors.Is(err, ErrDuplicateAdjustment)
}

// IsConflict returns true if the error is a state conflict with the current
// record rather than a problem with the input.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyDecided) ||
		errors.Is(err, ErrRequestAlreadyClosed) ||
		errors.Is(err, ErrTooLateToCancel) ||
		errors.Is(err, ErrMonthNotEditable) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
