package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors forming the failure taxonomy. Callers branch with
// errors.Is; the typed errors below wrap these and carry detail.
var (
	// ErrAuthorizationDenied indicates a policy rejection. Never retried.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrValidationFailed indicates a schema violation. Never retried.
	ErrValidationFailed = errors.New("validation failed")
	// ErrImmutableField indicates a write altering a protected field.
	ErrImmutableField = errors.New("immutable field violation")
	// ErrNotFound indicates the addressed document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the remote store rejected a locally allowed
	// write. Surfaced once, never retried automatically.
	ErrConflict = errors.New("remote conflict")
	// ErrTransient indicates a network or service failure eligible for
	// retry while the write sits queued.
	ErrTransient = errors.New("transient failure")
	// ErrMalformedRequest indicates a request the engine cannot interpret:
	// wrong path arity, unknown collection, missing payload.
	ErrMalformedRequest = errors.New("malformed request")
)

// Retryable reports whether the coordinator may retry the operation.
// Only transient failures qualify; everything else in the taxonomy means
// the request itself is invalid or authoritatively rejected.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// AuthorizationError carries the specific deny reason so callers can
// distinguish "not permitted" from "no rule in effect".
type AuthorizationError struct {
	Reason string
	Detail string
}

func (e *AuthorizationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("authorization denied (%s): %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("authorization denied (%s)", e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return ErrAuthorizationDenied }

// FieldError describes a single invalid field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Message
}

// ValidationError aggregates per-field failures from the document validator.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.String()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// ImmutableFieldError identifies the protected field a write tried to alter.
type ImmutableFieldError struct {
	Field string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("immutable field violation: %s", e.Field)
}

func (e *ImmutableFieldError) Unwrap() error { return ErrImmutableField }

// ConflictError records the remote store's authoritative rejection reason.
type ConflictError struct {
	RemoteReason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote conflict: %s", e.RemoteReason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// TransientError wraps a network or service failure.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return ErrTransient }
