package model

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the series engine.
var (
	ErrMissingIdentifier = errors.New("missing identifier")
	ErrInvalidChangeSet  = errors.New("invalid change set")
	ErrUnknownScope      = errors.New("unknown scope")
	ErrNotAnOccurrence   = errors.New("not an occurrence of the series")

	// ErrOrphanException marks an exception whose recurrence id is not an
	// occurrence of the master rule. It is logged while pruning and never
	// handed to callers.
	ErrOrphanException = errors.New("orphan exception")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Kind    error
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// NewValidationError builds a ValidationError that unwraps to kind.
func NewValidationError(kind error, field, message string) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Message: message}
}
