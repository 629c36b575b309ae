// Package apperr gives the Cloud and Gate a shared failure taxonomy instead
// of ad-hoc status codes, modeled on the operation-wrapped error pattern
// used across the MarkoPoloResearchLab/ledger pkg/ledger package.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the kinds listed in spec.md §4.3 / §7.
type Code string

const (
	BadInput           Code = "BAD_INPUT"
	Unauthorized       Code = "UNAUTHORIZED"
	NotFound           Code = "NOT_FOUND"
	Conflict           Code = "CONFLICT"
	NetworkUnavailable Code = "NETWORK_UNAVAILABLE"
	Timeout            Code = "TIMEOUT"
	Internal           Code = "INTERNAL"
)

// Error wraps a failure with a stable code and an operation/subject pair so
// logs and client responses stay consistent across the whole codebase.
type Error struct {
	Op      string
	Subject string
	Code    Code
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s.%s: %s", e.Op, e.Subject, e.Code)
	}
	return fmt.Sprintf("%s.%s.%s: %v", e.Op, e.Subject, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap builds an *Error. Returns nil when err is nil so call sites can
// write `return apperr.Wrap(...)` unconditionally.
func Wrap(op, subject string, code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Subject: subject, Code: code, Err: err}
}

// New builds an *Error without an underlying cause, for validation-style
// failures raised directly at the call site.
func New(op, subject string, code Code, msg string) error {
	return &Error{Op: op, Subject: subject, Code: code, Err: errors.New(msg)}
}

// CodeOf extracts the Code from err, defaulting to Internal when err does
// not carry one.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Internal
}

// HTTPStatus maps a Code to the status spec.md §4.3 assigns it.
func HTTPStatus(code Code) int {
	switch code {
	case BadInput:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case NetworkUnavailable, Timeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the human-readable cause, stripped of the op.subject.code
// prefix, suitable for a JSON body.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Err != nil {
		return appErr.Err.Error()
	}
	return err.Error()
}
