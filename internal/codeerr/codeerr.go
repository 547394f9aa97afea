// Package codeerr provides a small typed-error scheme for the file store.
//
// Every error that can cross a component boundary carries one of a fixed
// set of codes (mirroring spec.md's error-kind table) instead of being
// distinguished by string matching or ad-hoc sentinel values scattered
// across packages.
package codeerr

import (
	"errors"
	"fmt"
)

// Code identifies the kind of failure, independent of its message text.
type Code uint16

const (
	// Unknown is the zero value; never returned deliberately.
	Unknown Code = iota
	InvalidInput
	AuthRequired
	AuthFailed
	QuotaExceeded
	NotFound
	AlreadyExists
	Capacity
	Transport
	Internal
	ShuttingDown
)

func (c Code) String() string {
	switch c {
	case InvalidInput:
		return "InvalidInput"
	case AuthRequired:
		return "AuthRequired"
	case AuthFailed:
		return "AuthFailed"
	case QuotaExceeded:
		return "QuotaExceeded"
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case Capacity:
		return "Capacity"
	case Transport:
		return "Transport"
	case Internal:
		return "Internal"
	case ShuttingDown:
		return "ShuttingDown"
	default:
		return "Unknown"
	}
}

// Error is a codeerr-flavoured error: a code, a human message, and an
// optional wrapped cause.
type Error struct {
	code    Code
	message string
	cause   error
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap builds an Error with the given code and message, recording cause
// for Unwrap/Is purposes without leaking the cause's text to clients.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{code: code, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Code returns the error's code.
func (e *Error) Code() Code {
	if e == nil {
		return Unknown
	}
	return e.code
}

// Message returns the error's message text alone, without the code prefix
// or any wrapped cause. Callers that relay errors to an untrusted client
// (e.g. a session's ERROR: reply) use this instead of Error() so the
// cause's text, which may reference internal paths or syscalls, never
// reaches the wire.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is a codeerr.Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return e.code == t.code
}

// CodeOf extracts the Code from err, returning Unknown if err is not (or
// does not wrap) a codeerr.Error.
func CodeOf(err error) Code {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return Unknown
}
