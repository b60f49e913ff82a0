// Package apperr provides error codes and a wrapping error type shared
// across the sync core. Codes let callers branch on failure class without
// string matching, and distinguish policy violations from network errors.
package apperr

import (
	"errors"
	"fmt"
)

// ErrorCode represents a stable, machine-readable failure class.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Sync errors
	ErrSyncFailed    ErrorCode = "SYNC_FAILED"
	ErrSyncConflict  ErrorCode = "SYNC_CONFLICT"
	ErrSyncTimeout   ErrorCode = "SYNC_TIMEOUT"
	ErrSyncAbandoned ErrorCode = "SYNC_ABANDONED"
	ErrQueueFull     ErrorCode = "QUEUE_FULL"

	// Policy errors
	// ErrOfflineWrite is the policy violation raised when an online-only
	// device attempts a write without connectivity. Remediation differs
	// from a transient network error, so it gets its own code.
	ErrOfflineWrite       ErrorCode = "OFFLINE_WRITE_REJECTED"
	ErrDeviceUnregistered ErrorCode = "DEVICE_UNREGISTERED"

	// Remote errors
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	ErrRemoteRejected    ErrorCode = "REMOTE_REJECTED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error (anywhere in its chain) carries a specific code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or ErrInternal when err carries
// none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
