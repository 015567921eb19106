package livestream

import (
	"errors"
	"fmt"
)

// Error represents a domain-specific error.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Error codes.
const (
	// ErrCodeValidation marks malformed input rejected before any remote call.
	ErrCodeValidation = "VALIDATION"
	// ErrCodeTransport marks a network or remote service failure.
	ErrCodeTransport = "TRANSPORT"
	// ErrCodeStateConflict marks a command invalid for the current lifecycle state.
	ErrCodeStateConflict = "STATE_CONFLICT"
)

// NewError creates a new domain error.
func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ValidationError creates a VALIDATION error.
func ValidationError(format string, args ...any) *Error {
	return NewError(ErrCodeValidation, fmt.Sprintf(format, args...), nil)
}

// ConflictError creates a STATE_CONFLICT error.
func ConflictError(format string, args ...any) *Error {
	return NewError(ErrCodeStateConflict, fmt.Sprintf(format, args...), nil)
}

// TransportError wraps cause as a TRANSPORT error.
func TransportError(message string, cause error) *Error {
	return NewError(ErrCodeTransport, message, cause)
}

// CodeOf returns the domain code of err. Errors that did not originate in
// this package are reported as transport failures.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeTransport
}

// IsValidation reports whether err is a VALIDATION error.
func IsValidation(err error) bool { return err != nil && CodeOf(err) == ErrCodeValidation }

// IsConflict reports whether err is a STATE_CONFLICT error.
func IsConflict(err error) bool { return err != nil && CodeOf(err) == ErrCodeStateConflict }

// IsTransport reports whether err is a TRANSPORT error.
func IsTransport(err error) bool { return err != nil && CodeOf(err) == ErrCodeTransport }
