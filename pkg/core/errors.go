package core

import (
	"fmt"
)

// Error is the canonical error carried across the turn pipeline.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrValidation covers malformed requests: unknown model id, bad message
	// type, out-of-range edit index. Rejected before any provider call.
	ErrValidation ErrorType = "validation_error"
	// ErrAuthentication covers missing or undecodable sessions.
	ErrAuthentication ErrorType = "authentication_error"
	// ErrPermission covers requests the caller may not perform, including
	// insufficient credit.
	ErrPermission ErrorType = "permission_error"
	// ErrNotFound covers absent conversations.
	ErrNotFound ErrorType = "not_found_error"
	// ErrUpstream covers provider transport failures and synthesis failures
	// beyond the per-sentence skip policy.
	ErrUpstream ErrorType = "upstream_error"
	// ErrPersistence covers store write and notifier failures after the
	// provider stream completed; the transaction is rolled back.
	ErrPersistence ErrorType = "persistence_error"
)

// NewValidationError creates a validation error.
func NewValidationError(message string) *Error {
	return &Error{
		Type:    ErrValidation,
		Message: message,
	}
}

// NewValidationErrorWithParam creates a validation error naming the offending field.
func NewValidationErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrValidation,
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

// NewPermissionError creates a permission error.
func NewPermissionError(message string) *Error {
	return &Error{
		Type:    ErrPermission,
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

// NewUpstreamError wraps a provider or synthesis failure.
func NewUpstreamError(message string, cause error) *Error {
	return &Error{
		Type:    ErrUpstream,
		Message: message,
		Cause:   cause,
	}
}

// NewPersistenceError wraps a store or notifier failure.
func NewPersistenceError(message string, cause error) *Error {
	return &Error{
		Type:    ErrPersistence,
		Message: message,
		Cause:   cause,
	}
}
