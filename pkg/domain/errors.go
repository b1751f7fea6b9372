package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("resource not found")
	// ErrAlreadyExists is returned when a unique key is already taken
	ErrAlreadyExists = errors.New("resource already exists")
	// ErrValidation is returned when input validation fails
	ErrValidation = errors.New("validation error")
	// ErrUnauthorized is returned when a credential is missing or invalid
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a user is not allowed to perform an action
	ErrForbidden = errors.New("forbidden")
	// ErrDuplicate is returned when the idempotency guard finds an open charge
	ErrDuplicate = errors.New("duplicate charge")
	// ErrStateConflict is returned when a transition is not allowed from the current status
	ErrStateConflict = errors.New("state conflict")
	// ErrNotSupported is returned when a gateway lacks a capability
	ErrNotSupported = errors.New("operation not supported")
	// ErrInfrastructure is returned when an auxiliary store is unavailable
	ErrInfrastructure = errors.New("infrastructure unavailable")
)

// ValidationError carries field level messages.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError from field/message pairs.
func NewValidationError(kv ...string) *ValidationError {
	fields := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = kv[i+1]
	}
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation error: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DuplicateError references the transaction that is already open for the
// same payer and amount. It is not a hard failure for the caller.
type DuplicateError struct {
	ExistingID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate charge: existing transaction %s", e.ExistingID)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// StateConflictError reports a rejected status transition.
type StateConflictError struct {
	ID   string
	From string
	To   string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("transaction %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// NotSupportedError is surfaced to operators as a manual step.
type NotSupportedError struct {
	Operation string
	Provider  string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("%s is not supported by %s: manual action required", e.Operation, e.Provider)
}

func (e *NotSupportedError) Unwrap() error { return ErrNotSupported }

// InfrastructureError wraps failures of the lock or counter store.
type InfrastructureError struct {
	Component string
	Err       error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Component, e.Err)
}

func (e *InfrastructureError) Unwrap() []error { return []error{ErrInfrastructure, e.Err} }
