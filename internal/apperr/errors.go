// Package apperr defines the coded error taxonomy shared by the workflow
// service. Handlers map codes onto HTTP statuses; the approval engine uses
// them to decide what is retryable.
package apperr

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Code identifies one class of failure.
type Code string

const (
	CodeNotFound      Code = "NOT_FOUND"
	CodeNoPendingStep Code = "NO_PENDING_STEP"
	CodeForbidden     Code = "FORBIDDEN"
	CodeConflict      Code = "CONFLICT"
	CodeUnavailable   Code = "STORAGE_UNAVAILABLE"
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeInternal      Code = "INTERNAL"
)

// Error carries a code, a human-readable message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(cause error, code Code, message string) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// NoPendingStep reports a workflow with no step awaiting action.
func NoPendingStep(workflowID string) error {
	return &Error{Code: CodeNoPendingStep, Message: fmt.Sprintf("workflow %q has no step awaiting action", workflowID)}
}

// Forbidden reports an actor not allowed to act on the pending step.
func Forbidden(message string) error {
	return &Error{Code: CodeForbidden, Message: message}
}

// Conflict reports a concurrent transition detected by the storage layer.
func Conflict(message string) error {
	return &Error{Code: CodeConflict, Message: message}
}

// InvalidInput reports a malformed or missing request field.
func InvalidInput(field, message string) error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf("%s: %s", field, message)}
}

// CodeOf extracts the code from an error chain. Unclassified errors are
// reported as CodeInternal; nil maps to the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether the error chain carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Postgres SQLSTATE classes that indicate a transient storage problem.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateTooManyConnections   = "53300"
	sqlstateAdminShutdown        = "57P01"
	sqlstateCrashShutdown        = "57P02"
	sqlstateCannotConnectNow     = "57P03"
)

// FromStorage classifies a database error into the taxonomy: serialization
// failures and deadlocks become Conflict (retried once by the engine),
// connection-level failures become StorageUnavailable (retried with backoff).
// Errors already carrying a code pass through unchanged.
func FromStorage(err error, message string) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateSerializationFailure, sqlstateDeadlockDetected:
			return Wrap(err, CodeConflict, message)
		case sqlstateTooManyConnections, sqlstateAdminShutdown, sqlstateCrashShutdown, sqlstateCannotConnectNow:
			return Wrap(err, CodeUnavailable, message)
		}
		// Connection class 08xxx covers broken and refused connections.
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return Wrap(err, CodeUnavailable, message)
		}
		return Wrap(err, CodeInternal, message)
	}

	if pgconn.SafeToRetry(err) {
		return Wrap(err, CodeUnavailable, message)
	}
	return Wrap(err, CodeInternal, message)
}
