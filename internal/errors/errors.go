// Package errors defines the error taxonomy shared by the sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies a failure so callers can decide whether a run,
// a unit of work, or nothing at all should be aborted.
type ErrorCode string

const (
	// Configuration errors
	ErrConfigurationIncomplete ErrorCode = "CONFIGURATION_INCOMPLETE"
	ErrInvalidConfig           ErrorCode = "INVALID_CONFIG"

	// Run control
	ErrLockContention ErrorCode = "LOCK_CONTENTION"

	// Input errors
	ErrMalformedDiff       ErrorCode = "MALFORMED_DIFF"
	ErrMalformedManifest   ErrorCode = "MALFORMED_MANIFEST"
	ErrUnresolvedReference ErrorCode = "UNRESOLVED_REFERENCE"

	// Destination errors
	ErrRemoteConflict    ErrorCode = "REMOTE_CONFLICT"
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	ErrRemoteNotFound    ErrorCode = "REMOTE_NOT_FOUND"

	// Build errors
	ErrBuildTimeout ErrorCode = "BUILD_TIMEOUT"
	ErrBuildFailure ErrorCode = "BUILD_FAILURE"

	// Reconciliation
	ErrFatalInconsistency ErrorCode = "FATAL_INCONSISTENCY"
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
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for e := err; e != nil; {
		if !stderrors.As(e, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		e = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain,
// or the empty code if there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Recoverable reports whether a failure only spoils the current unit of
// work, so a lenient run may continue with the next one.
func Recoverable(err error) bool {
	switch CodeOf(err) {
	case ErrRemoteUnavailable, ErrBuildFailure, ErrBuildTimeout, ErrUnresolvedReference:
		return true
	default:
		return false
	}
}
