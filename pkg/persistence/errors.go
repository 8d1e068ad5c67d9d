// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrNotFound indicates a record was not found by the given identifier.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateAction indicates an action with the same dedup key already exists.
	ErrDuplicateAction = errors.New("duplicate scheduled action")

	// ErrStateConflict indicates a compare-and-swap lost against a concurrent state change.
	ErrStateConflict = errors.New("state conflict")
)

// ActionError wraps scheduled-action errors with additional context.
type ActionError struct {
	Op       string // Operation being performed (e.g., "Transition", "InsertAction")
	ActionID string // Action ID if applicable
	Err      error  // Underlying error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s operation failed for action %s: %v", e.Op, e.ActionID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for action errors.
func (e *ActionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewActionError creates a new action error with context.
func NewActionError(op, actionID string, err error) *ActionError {
	return &ActionError{
		Op:       op,
		ActionID: actionID,
		Err:      err,
	}
}

// RecordError wraps lookups of any other record kind.
type RecordError struct {
	Kind string // Record kind (e.g., "debt", "template", "run")
	ID   string
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NotFound returns a RecordError wrapping ErrNotFound.
func NotFound(kind, id string) *RecordError {
	return &RecordError{Kind: kind, ID: id, Err: ErrNotFound}
}

// IsNotFound checks if an error indicates a record was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateAction checks if an error indicates a dedup conflict.
func IsDuplicateAction(err error) bool {
	return errors.Is(err, ErrDuplicateAction)
}

// IsStateConflict checks if an error indicates a lost compare-and-swap.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrStateConflict)
}
