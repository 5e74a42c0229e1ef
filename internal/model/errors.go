package model

import "fmt"

// ValidationError rejects a malformed parameter set or deal field before
// any computation or state change. Field names the offending input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid constructs a ValidationError for the named field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StateConflictError rejects a lifecycle action attempted from a status
// that does not permit it. The deal is left unchanged.
type StateConflictError struct {
	DealID string
	Status DealStatus
	Action string
}

func (e *StateConflictError) Error() string {
	if e.Status.Terminal() {
		return fmt.Sprintf("deal %s: cannot %s: already finalized (%s)", e.DealID, e.Action, e.Status)
	}
	return fmt.Sprintf("deal %s: cannot %s from status %s", e.DealID, e.Action, e.Status)
}

// ConfirmationError reports a failed or timed-out external settlement
// confirmation step. The deal has been driven to failed.
type ConfirmationError struct {
	DealID string
	Err    error
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("deal %s: settlement confirmation failed: %v", e.DealID, e.Err)
}

func (e *ConfirmationError) Unwrap() error { return e.Err }
