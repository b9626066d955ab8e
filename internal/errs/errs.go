// Package errs defines the error taxonomy shared by the repository,
// projection and role layers. Errors carry a stable Code so the HTTP layer
// can map them without inspecting messages.
package errs

import "errors"

// Code is a transport-agnostic failure category.
type Code string

const (
	CodeUnauthorized       Code = "unauthorized"
	CodeNotFound           Code = "not_found"
	CodeStoreUnavailable   Code = "store_unavailable"
	CodeValidation         Code = "validation_failed"
	CodePartialSyncFailure Code = "partial_sync_failure"
	CodeConflict           Code = "conflict"
	CodeInternal           Code = "internal_error"
)

// Error wraps a failure with a stable code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code so callers can write errors.Is(err, errs.NotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is comparisons.
var (
	Unauthorized       = &Error{Code: CodeUnauthorized}
	NotFound           = &Error{Code: CodeNotFound}
	StoreUnavailable   = &Error{Code: CodeStoreUnavailable}
	ValidationFailed   = &Error{Code: CodeValidation}
	PartialSyncFailure = &Error{Code: CodePartialSyncFailure}
	Conflict           = &Error{Code: CodeConflict}
)

// New creates an error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates an error wrapping err. If err already carries a code, that
// code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
