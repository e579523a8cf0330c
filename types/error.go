package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

const (
	// ErrValidation marks a write rejected before mutation because a field
	// failed its type or domain check. Error.Field names the offender.
	ErrValidation ErrorCode = "VALIDATION"

	// ErrNotFound marks a write addressed to a record that does not exist.
	// Read-side absence is never an error; Get returns (nil, nil) instead.
	ErrNotFound ErrorCode = "NOT_FOUND"

	// ErrStoreUnavailable marks a tier unreachable after bounded retries.
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// ErrConfiguration marks an impossible budget setup, e.g. the
	// never-truncated sections alone exceeding the global budget.
	ErrConfiguration ErrorCode = "CONFIGURATION"

	// ErrInvalidEvent marks an update event the rules engine cannot route.
	ErrInvalidEvent ErrorCode = "INVALID_EVENT"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.Cause != nil:
		return fmt.Sprintf("[%s] %s (field %q): %v", e.Code, e.Message, e.Field, e.Cause)
	case e.Field != "":
		return fmt.Sprintf("[%s] %s (field %q)", e.Code, e.Message, e.Field)
	case e.Cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewValidationError creates a validation error naming the offending field.
func NewValidationError(field, message string) *Error {
	return &Error{Code: ErrValidation, Message: message, Field: field}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool {
	return GetErrorCode(err) == ErrValidation
}

// IsStoreUnavailable reports whether err means a tier stayed unreachable
// after its bounded retries.
func IsStoreUnavailable(err error) bool {
	return GetErrorCode(err) == ErrStoreUnavailable
}

// IsConfiguration reports whether err is a budget configuration error.
func IsConfiguration(err error) bool {
	return GetErrorCode(err) == ErrConfiguration
}
