package mission

import (
	"errors"
	"fmt"
)

// Code classifies mission errors.
type Code string

const (
	// CodeNotFound covers unknown actors, missions and definitions.
	CodeNotFound Code = "NOT_FOUND"
	// CodeUnauthorized is returned when a non-authoritative store is mutated.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeConditionsNotMet is returned when the actor lacks required tags.
	CodeConditionsNotMet Code = "CONDITIONS_NOT_MET"
	// CodeInvalidState is returned when the mission state forbids the operation.
	CodeInvalidState Code = "INVALID_STATE"
	// CodeConfigurationError marks a soft-locked mission: branches exist but none apply.
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	// CodeStaleReference is logged when an index entry no longer matches its record.
	CodeStaleReference Code = "STALE_REFERENCE"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrConditionsNotMet   = &Error{Code: CodeConditionsNotMet, Message: "conditions not met"}
	ErrInvalidState       = &Error{Code: CodeInvalidState, Message: "invalid state"}
	ErrConfigurationError = &Error{Code: CodeConfigurationError, Message: "configuration error"}
	ErrStaleReference     = &Error{Code: CodeStaleReference, Message: "stale reference"}
)

// Errorf creates a domain error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMetadata creates a domain error carrying context fields.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error around an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the code from err, or "" when err is not a domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
