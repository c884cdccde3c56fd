// Package errors provides the structured error taxonomy of the package manager.
//
// Every core operation fails with an [*Error] carrying a machine-readable
// [Code]. The CLI renders [UserMessage] and never a stack trace; library
// callers branch on the code with [Is]:
//
//	if errors.Is(err, errors.ErrCodeNotInitialized) {
//	    // tell the user to run `ipm init`
//	}
//
// Codes are grouped by the kind of problem they describe:
//   - Project state: NOT_INITIALIZED, MALFORMED_DESCRIPTOR
//   - Remote indexes: INVALID_INDEX, UNKNOWN_INDEX, NETWORK
//   - Resolution: NOT_FOUND, VERSION_CONFLICT
//   - Artifacts: INTEGRITY, ARCHIVE
//   - Installation: ALREADY_INSTALLED, ENVIRONMENT
//
// Structural and integrity errors are deterministic and never retried.
// Only NETWORK errors may be retried by the transport layer.
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for the package manager core.
const (
	// Project state
	ErrCodeNotInitialized      Code = "NOT_INITIALIZED"
	ErrCodeMalformedDescriptor Code = "MALFORMED_DESCRIPTOR"

	// Remote indexes
	ErrCodeInvalidIndex Code = "INVALID_INDEX"
	ErrCodeUnknownIndex Code = "UNKNOWN_INDEX"
	ErrCodeNetwork      Code = "NETWORK_ERROR"

	// Resolution
	ErrCodeNotFound        Code = "NOT_FOUND"
	ErrCodeVersionConflict Code = "VERSION_CONFLICT"

	// Artifacts
	ErrCodeIntegrity Code = "INTEGRITY"
	ErrCodeArchive   Code = "ARCHIVE"

	// Installation
	ErrCodeAlreadyInstalled Code = "ALREADY_INSTALLED"
	ErrCodeEnvironment      Code = "ENVIRONMENT"

	// Input validation
	ErrCodeInvalidInput   Code = "INVALID_INPUT"
	ErrCodeInvalidPackage Code = "INVALID_PACKAGE"
	ErrCodeInvalidPath    Code = "INVALID_PATH"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix, followed
// by the cause when there is one. For other errors, returns the error
// string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Cause)
		}
		return e.Message
	}
	return err.Error()
}

// NotFound is shorthand for a NOT_FOUND error naming a package and constraint.
func NotFound(name, constraint string) *Error {
	if constraint == "" {
		return New(ErrCodeNotFound, "package %q not found", name)
	}
	return New(ErrCodeNotFound, "package %q has no version matching %q", name, constraint)
}

// NotInitialized reports a project directory without a descriptor file.
func NotInitialized(path string) *Error {
	return New(ErrCodeNotInitialized, "%s is not initialized, run `ipm init` first", path)
}
