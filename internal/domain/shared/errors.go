package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound = errors.New("entity not found")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")

	// Provisioning errors
	ErrFeatureUnavailable = errors.New("feature not provisioned")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "skill", "retention", "eventlog"
	Op      string // Operation that failed, e.g., "UpdateSkill"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// ValidationError creates a validation DomainError.
func ValidationError(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrValidation, message)
}

// FeatureUnavailableError is returned by datastore adapters when an optional
// table has not been provisioned.
type FeatureUnavailableError struct {
	Table string
	Err   error
}

// NewFeatureUnavailable creates a FeatureUnavailableError for a table.
func NewFeatureUnavailable(table string, err error) *FeatureUnavailableError {
	return &FeatureUnavailableError{Table: table, Err: err}
}

func (e *FeatureUnavailableError) Error() string {
	return fmt.Sprintf("table %q is not provisioned", e.Table)
}

func (e *FeatureUnavailableError) Unwrap() error { return e.Err }

func (e *FeatureUnavailableError) Is(target error) bool {
	return target == ErrFeatureUnavailable
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsFeatureUnavailable checks if the error signals an unprovisioned table.
func IsFeatureUnavailable(err error) bool {
	return errors.Is(err, ErrFeatureUnavailable)
}

// UnavailableTable returns the table named by a FeatureUnavailableError.
func UnavailableTable(err error) string {
	var fe *FeatureUnavailableError
	if errors.As(err, &fe) {
		return fe.Table
	}
	return ""
}
