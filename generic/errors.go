/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages return these (or wrap them with %w) so callers can
  classify failures with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Validation errors     - bad operator input, blocks the action before any write
  2. Configuration errors  - data/programming faults (unknown leave type), fail loudly
  3. Persistence errors    - a store write failed; recovered per employee during commit
  4. Confirmation required - soft gate, commit needs an acknowledged total
  5. Conflicts             - already paid, run in progress, already deleted

USAGE:
  if errors.Is(err, generic.ErrValidation) {
      // show message to the operator
  }

  var pErr *generic.PersistenceError
  if errors.As(err, &pErr) {
      log.Printf("write %s failed for %s", pErr.Op, pErr.EmployeeID)
  }

SEE ALSO:
  - api/handlers.go: maps these to HTTP status codes
  - payroll/disburse.go: per-employee persistence failures
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the class of every operator-input failure.
	ErrValidation = errors.New("validation failed")

	// ErrConfiguration is the class of data-integrity faults such as a leave
	// type outside the closed set reaching the rule engine.
	ErrConfiguration = errors.New("configuration error")

	// ErrPersistence is the class of failed store writes.
	ErrPersistence = errors.New("persistence error")

	// ErrConfirmationRequired is returned when a commit is attempted without
	// an acknowledged confirmation of the computed total.
	ErrConfirmationRequired = errors.New("operator confirmation required")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyPaid is returned by payment stores when a paid bank record
	// already exists for the same employee and month.
	ErrAlreadyPaid = errors.New("employee already paid for month")

	// ErrAlreadyDeleted is returned when soft-deleting a deleted leave record.
	ErrAlreadyDeleted = errors.New("record already deleted")

	// ErrRunInProgress is returned when another commit holds the month lock.
	ErrRunInProgress = errors.New("payroll run already in progress")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one rejected input.
type ValidationError struct {
	Field   string
	Message string
	Err     error // optional more specific sentinel (e.g. ErrInvalidPeriod)
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// ConfigurationError reports a value that should never reach the engine.
type ConfigurationError struct {
	What  string
	Value string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: unrecognized %s %q", e.What, e.Value)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// PersistenceError wraps a failed store write with the operation and the
// employee it concerned.
type PersistenceError struct {
	Op         string
	EmployeeID string
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.EmployeeID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s for %s: %v", e.Op, e.EmployeeID, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// Validationf builds a ValidationError with a formatted message.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid operator input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the request clashes with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrAlreadyDeleted) ||
		errors.Is(err, ErrRunInProgress)
}
