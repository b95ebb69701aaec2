/*
errors.go - Error taxonomy for the budget engine

PURPOSE:
  One place for every failure kind the engine can raise. Callers match kinds
  with errors.Is against the sentinels; structured errors carry the entity
  names (and, for zero overlap, the offending period) for user messages.

KINDS:
  MissingVatRate         VAT split in strict mode without a rate or default
  ZeroOverlap            explicit line period outside the budget's year
  MissingClassification  eligible contract without a cost center
  SnapshotImmutable      mutation of a submitted snapshot
  GeneratedLineReadOnly  manual save drifted a generated line
  AddendumReferenceInvalid  addendum reference snapshot check failed
  UniquenessViolation    second Live draft for a year, duplicate names

  Two outcomes are deliberately NOT errors: a planned item that contributes
  nothing to a year, and an enqueue outside the horizon. Both are silent.
*/
package budget

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrMissingVATRate           = errors.New("missing VAT rate")
	ErrZeroOverlap              = errors.New("period has zero overlap with fiscal year")
	ErrMissingClassification    = errors.New("missing classification")
	ErrSnapshotImmutable        = errors.New("snapshot is immutable")
	ErrGeneratedLineReadOnly    = errors.New("generated line is read-only")
	ErrAddendumReferenceInvalid = errors.New("addendum reference invalid")
	ErrUniquenessViolation      = errors.New("uniqueness violation")

	// ErrNotFound is returned by stores when a named document doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when a document fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrOperationNotAllowed is returned when the budget state machine
	// rejects an operation for the budget's type and status.
	ErrOperationNotAllowed = errors.New("operation not allowed")

	// ErrConcurrentModification is returned when a budget's version stamp
	// changed between load and save.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrLockNotObtained is returned when the refresh lock for a year is held elsewhere.
	ErrLockNotObtained = errors.New("lock not obtained")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError describes a field-level rule violation on a document.
type ValidationError struct {
	Entity  string
	Name    string
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	subject := e.Entity
	if e.Name != "" {
		subject = fmt.Sprintf("%s %s", e.Entity, e.Name)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", subject, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", subject, e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// ZeroOverlapError is raised when a line's explicit period misses its budget year.
type ZeroOverlapError struct {
	Line   int
	Period Period
	Year   string
}

func (e *ZeroOverlapError) Error() string {
	return fmt.Sprintf("line %d: period (%s) has zero overlap with fiscal year %s", e.Line, e.Period, e.Year)
}

func (e *ZeroOverlapError) Unwrap() error { return ErrZeroOverlap }

// MissingClassificationError aborts a refresh on an eligible but unclassified contract.
type MissingClassificationError struct {
	Contract string
	Field    string
}

func (e *MissingClassificationError) Error() string {
	return fmt.Sprintf("contract %s has no %s", e.Contract, e.Field)
}

func (e *MissingClassificationError) Unwrap() error { return ErrMissingClassification }

// GeneratedLineReadOnlyError names the field of a generated line that drifted.
type GeneratedLineReadOnlyError struct {
	Budget    string
	SourceKey string
	Field     string
}

func (e *GeneratedLineReadOnlyError) Error() string {
	return fmt.Sprintf("budget %s: generated line %s is read-only (field %s changed)", e.Budget, e.SourceKey, e.Field)
}

func (e *GeneratedLineReadOnlyError) Unwrap() error { return ErrGeneratedLineReadOnly }

// StateError is raised when an operation isn't permitted in a budget's current state.
type StateError struct {
	Budget    string
	Operation Operation
	State     string
	Err       error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("budget %s: %s not allowed on %s budget", e.Budget, e.Operation, e.State)
}

func (e *StateError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrOperationNotAllowed
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable reports whether the operation may succeed if retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrLockNotObtained)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports state-machine and uniqueness failures.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOperationNotAllowed) ||
		errors.Is(err, ErrSnapshotImmutable) ||
		errors.Is(err, ErrUniquenessViolation) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsClientError reports failures caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrMissingVATRate) ||
		errors.Is(err, ErrZeroOverlap) ||
		errors.Is(err, ErrMissingClassification) ||
		errors.Is(err, ErrGeneratedLineReadOnly) ||
		errors.Is(err, ErrAddendumReferenceInvalid)
}

func notFound(entity, name string) error {
	return fmt.Errorf("%s %s: %w", entity, name, ErrNotFound)
}
