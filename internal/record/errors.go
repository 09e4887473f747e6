package record

import (
	"errors"
	"fmt"
)

// Code categorizes failures surfaced by the attendance core.
type Code string

const (
	// CodeAuthRequired indicates there is no active user.
	CodeAuthRequired Code = "AUTH_REQUIRED"

	// CodeCaptureFailed indicates the camera or GPS acquisition failed or was cancelled.
	CodeCaptureFailed Code = "CAPTURE_FAILED"

	// CodeStorageUnavailable indicates the local durable store is inaccessible.
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"

	// CodeRemoteWriteFailed indicates the remote system rejected a write for a
	// reason other than a duplicate key.
	CodeRemoteWriteFailed Code = "REMOTE_WRITE_FAILED"

	// CodeSchemaMismatch indicates the local database layout is not the expected
	// one. It triggers a rebuild and is never shown to the worker.
	CodeSchemaMismatch Code = "SCHEMA_MISMATCH"
)

// Error is a categorized failure with the operation that produced it.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the failing operation (e.g. "store.put_event").
	Op string

	// Message is a human-readable, actionable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Code, e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error without an underlying cause.
func NewError(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// WrapError creates an Error around an existing cause.
func WrapError(code Code, op, message string, err error) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// CodeOf extracts the category of err. The empty Code means err is not
// categorized (or nil).
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsAuthRequired reports whether err is an AuthRequired error.
func IsAuthRequired(err error) bool { return CodeOf(err) == CodeAuthRequired }

// IsCaptureFailed reports whether err is a CaptureFailed error.
func IsCaptureFailed(err error) bool { return CodeOf(err) == CodeCaptureFailed }

// IsStorageUnavailable reports whether err is a StorageUnavailable error.
func IsStorageUnavailable(err error) bool { return CodeOf(err) == CodeStorageUnavailable }

// IsRemoteWriteFailed reports whether err is a RemoteWriteFailed error.
func IsRemoteWriteFailed(err error) bool { return CodeOf(err) == CodeRemoteWriteFailed }

// IsSchemaMismatch reports whether err is a SchemaMismatch error.
func IsSchemaMismatch(err error) bool { return CodeOf(err) == CodeSchemaMismatch }
