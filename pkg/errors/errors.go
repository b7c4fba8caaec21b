// Package errors provides structured error types for aipgraph.
//
// Every error that crosses a package boundary towards a caller (CLI, HTTP API,
// query executor) carries a machine-readable [Code]. Codes decide control
// flow in a few places:
//   - CONFIG errors abort a query before any backend is contacted
//   - BACKEND_UNAVAILABLE and UNSUPPORTED_PREDICATE let a one-hop stage fall
//     back from the search index to the graph join
//   - NOT_FOUND maps to HTTP 404, INVALID_INPUT to 400
//
// # Usage
//
//	err := errors.New(errors.ErrCodeConfig, "undefined variable %q", name)
//	if errors.Is(err, errors.ErrCodeConfig) {
//	    // reject the request
//	}
//
//	err := errors.Wrap(errors.ErrCodeBackendUnavailable, cause, "search %s", index)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Request errors
	ErrCodeInvalidInput Code = "INVALID_INPUT"
	ErrCodeConfig       Code = "CONFIG"
	ErrCodeNotFound     Code = "NOT_FOUND"

	// Backend errors
	ErrCodeBackendUnavailable   Code = "BACKEND_UNAVAILABLE"
	ErrCodeUnsupportedPredicate Code = "UNSUPPORTED_PREDICATE"
	ErrCodeTimeout              Code = "TIMEOUT"

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
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// GetCode extracts the outermost error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsFallback reports whether err allows a caller to retry the same work on
// a different backend.
func IsFallback(err error) bool {
	return Is(err, ErrCodeBackendUnavailable) || Is(err, ErrCodeUnsupportedPredicate)
}
