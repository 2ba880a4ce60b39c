package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation failed")
	ErrPersistence  = errors.New("persistence failed")
	ErrIntegrity    = errors.New("integrity violation")
	ErrNotFound     = errors.New("not found")
)

// ValidationError reports malformed input. It is raised before any mutation.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PersistenceError reports a store failure. When raised by an append, the
// ledger is unchanged.
type PersistenceError struct {
	Op    string
	Index int64
	Err   error
}

func (e *PersistenceError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("persistence failed: %s (index %d): %v", e.Op, e.Index, e.Err)
	}
	return fmt.Sprintf("persistence failed: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// IntegrityError reports the first block that fails validation.
type IntegrityError struct {
	Index  int64
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation at index %d: %s", e.Index, e.Reason)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
