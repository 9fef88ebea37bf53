// Package core holds the shared error taxonomy for the interview
// orchestrator. Controllers convert media and network failures into
// values of these types at the operation that issued them, so the
// session state machines never observe a raw transport error.
package core

import (
	"fmt"
)

// Error is the canonical error shape surfaced to callers and to the
// gateway error envelope.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrAPI            ErrorType = "api_error"

	// ErrPermission covers media device acquisition failures. The Code
	// field carries the underlying cause so the presentation layer can
	// show a cause-specific message.
	ErrPermission ErrorType = "permission_error"

	// ErrSessionState is returned when an operation is invoked in a
	// lifecycle state that does not permit it (for example resuming a
	// completed session).
	ErrSessionState ErrorType = "session_state_error"
)

// Media permission causes, carried in Error.Code.
const (
	PermissionDenied   = "device_denied"
	PermissionNotFound = "device_not_found"
	PermissionBusy     = "device_busy"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewSessionStateError creates a session state error.
func NewSessionStateError(message string) *Error {
	return &Error{
		Type:    ErrSessionState,
		Message: message,
	}
}

// NewPermissionError creates a media permission error for the given
// cause. Each cause maps to a distinct user-facing message; the cause
// itself rides along in Code. Permission errors are always retryable.
func NewPermissionError(cause string) *Error {
	msg := "could not access the microphone or camera"
	switch cause {
	case PermissionDenied:
		msg = "microphone or camera access was denied; allow access and try again"
	case PermissionNotFound:
		msg = "no microphone or camera was found on this device"
	case PermissionBusy:
		msg = "the microphone or camera is in use by another application"
	}
	return &Error{
		Type:      ErrPermission,
		Message:   msg,
		Code:      cause,
		Retryable: true,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}
