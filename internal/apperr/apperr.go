// Package apperr defines the error taxonomy of the client core.
//
// Every failure that leaves the API client or the session store is an
// [*Error] carrying a [Kind], so callers can branch with [Is] instead of
// matching on messages:
//
//   - Validation errors are local and carry per-field details.
//   - Auth errors mean the collaborator rejected credentials or an OTP.
//   - Unauthorized errors mean a credentialed request came back 401; the
//     API client has already triggered the login redirect.
//   - Request errors are any other non-2xx response.
//   - Transport errors cover network and decoding failures.
//   - NoIdentity errors are returned by operations that need a session.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an [Error].
type Kind string

const (
	KindValidation   Kind = "VALIDATION_ERROR"
	KindAuth         Kind = "AUTH_ERROR"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindRequest      Kind = "REQUEST_ERROR"
	KindTransport    Kind = "TRANSPORT_ERROR"
	KindNoIdentity   Kind = "NO_IDENTITY"
)

// FieldError represents a single field-level validation failure.
type FieldError struct {
	// Field is the JSON field name that failed validation.
	Field string `json:"field"`
	// Message is the human-readable description of the failure.
	Message string `json:"message"`
}

// Error is the canonical error type of the client core.
type Error struct {
	// Kind is the machine-readable classification.
	Kind Kind
	// Message is safe to show to the user.
	Message string
	// Status is the HTTP status code when the error came from a response.
	Status int
	// Fields holds per-field failures for validation errors.
	Fields []FieldError
	// Cause is the underlying error, for logging.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d)", e.Message, e.Status)
	}
	return e.Message
}

// Unwrap allows errors.Is and errors.As to traverse the cause chain.
func (e *Error) Unwrap() error { return e.Cause }

// Field returns the message recorded for field, or "" if the field passed.
func (e *Error) Field(field string) string {
	for _, f := range e.Fields {
		if f.Field == field {
			return f.Message
		}
	}
	return ""
}

// Validation creates a validation error with per-field details.
func Validation(msg string, fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

// Auth creates an authentication error carrying the collaborator's message.
func Auth(msg string, status int) *Error {
	return &Error{Kind: KindAuth, Message: msg, Status: status}
}

// Unauthorized creates the error returned after a 401 on a credentialed call.
func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg, Status: 401}
}

// Request creates an error for a non-2xx response.
func Request(status int, msg string) *Error {
	return &Error{Kind: KindRequest, Message: msg, Status: status}
}

// Transport wraps a network or decoding failure.
func Transport(msg string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: msg, Cause: cause}
}

// ErrNoIdentity is returned by operations that require a signed-in identity.
var ErrNoIdentity = &Error{Kind: KindNoIdentity, Message: "no identity is signed in"}

// As extracts the [*Error] from err's chain. It returns nil if not found.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// Is reports whether err carries an [*Error] of the given kind.
func Is(err error, kind Kind) bool {
	ae := As(err)
	return ae != nil && ae.Kind == kind
}
