// Package apperrors provides structured application errors with HTTP status mapping.
//
// The sentinel set mirrors the failure taxonomy of the training pipeline:
// validation failures are rejected up front, environment and execution
// failures are fatal for the job, transport failures are transient and
// eligible for retry, and protocol violations mean a trainer subprocess
// ended without reporting a result.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrEnvironment = errors.New("environment unavailable")
	ErrExecution   = errors.New("execution error")
	ErrTransport   = errors.New("transport error")
	ErrProtocol    = errors.New("protocol violation")
	ErrInternal    = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "epochs", "dataset_manifest_path")
	Resource string // For not found/conflict (e.g., "job", "node")
	Op       string // Operation that failed (e.g., "sandbox.launch")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Environment creates a fatal error for an unreachable execution environment.
// Never retried: if the sandbox runtime or container daemon is absent, a
// second attempt moments later will not change that.
func Environment(op string, cause error) error {
	return &Error{
		Sentinel: ErrEnvironment,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Execution creates a fatal error for a trainer-reported failure.
func Execution(op string, cause error) error {
	return &Error{
		Sentinel: ErrExecution,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Transport creates a transient error for a network failure talking to a
// remote node. The queue bridge retries these with backoff.
func Transport(op string, cause error) error {
	return &Error{
		Sentinel: ErrTransport,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Protocol creates a fatal error for a subprocess that ended without
// emitting its terminal result line.
func Protocol(op, message string) error {
	return &Error{
		Sentinel: ErrProtocol,
		Message:  message,
		Op:       op,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// IsTransient reports whether the error is eligible for automatic retry.
// Only transport failures qualify; everything else terminates the job.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport)
}
