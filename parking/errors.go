package parking

import (
	"errors"
	"fmt"
)

// ErrorCode classifies client errors so the host application can pick the
// right affordance (retry toast, conflict dialog, offline banner).
type ErrorCode string

const (
	// CodeReservationConflict: a booking was attempted while a session is
	// already reserved or active. Rejected before any backend call.
	CodeReservationConflict ErrorCode = "RESERVATION_CONFLICT"
	// CodeCancellation: cancel/stop called in a state that does not allow it.
	CodeCancellation ErrorCode = "CANCELLATION_INVALID"
	// CodeBackend: the REST backend answered with a non-2xx status.
	CodeBackend ErrorCode = "BACKEND_ERROR"
	// CodeConnectivity: the push channel or backend is unreachable.
	CodeConnectivity ErrorCode = "CONNECTIVITY_ERROR"
)

// Error is the typed error surfaced by user-initiated actions.
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches two typed errors by code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// NewReservationConflict reports an attempt to book over an existing session.
func NewReservationConflict(msg string) *Error {
	return &Error{Code: CodeReservationConflict, Message: msg}
}

// NewCancellation reports an invalid cancel/stop attempt.
func NewCancellation(msg string) *Error {
	return &Error{Code: CodeCancellation, Message: msg}
}

// NewBackend wraps a failed backend call. Backend failures during
// user-initiated actions are retryable from the UI.
func NewBackend(msg string, cause error) *Error {
	return &Error{Code: CodeBackend, Message: msg, Retryable: true, Cause: cause}
}

// NewConnectivity wraps a transport-level failure.
func NewConnectivity(msg string, cause error) *Error {
	return &Error{Code: CodeConnectivity, Message: msg, Retryable: true, Cause: cause}
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
