package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the class of an API error. Codes are stable strings that
// appear in error response bodies.
type Code string

const (
	CodeInvalidRequest   Code = "InvalidRequest"
	CodeNoAuthentication Code = "NoAuthentication"
	CodeNotAuthorized    Code = "NotAuthorized"
	CodeNotFound         Code = "NotFound"
	CodeInvalidState     Code = "InvalidState"
	CodeAlreadyExists    Code = "AlreadyExists"
	CodeServiceError     Code = "ServiceError"
	CodeInternalError    Code = "InternalError"
)

// Error is a structured API error carrying a class code, the HTTP status it
// maps to, and a human-readable message. The wrapped cause, if any, is kept
// for logs but never serialized to clients.
type Error struct {
	Code    Code
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is match any two errors of the same Code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

func newError(code Code, status int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Status: status, Message: fmt.Sprintf(format, args...)}
}

func InvalidRequest(format string, args ...interface{}) *Error {
	return newError(CodeInvalidRequest, http.StatusBadRequest, format, args...)
}

func NoAuthentication(format string, args ...interface{}) *Error {
	return newError(CodeNoAuthentication, http.StatusUnauthorized, format, args...)
}

func NotAuthorized(format string, args ...interface{}) *Error {
	return newError(CodeNotAuthorized, http.StatusForbidden, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newError(CodeNotFound, http.StatusNotFound, format, args...)
}

func InvalidState(format string, args ...interface{}) *Error {
	return newError(CodeInvalidState, http.StatusConflict, format, args...)
}

func AlreadyExists(format string, args ...interface{}) *Error {
	return newError(CodeAlreadyExists, http.StatusConflict, format, args...)
}

func ServiceError(format string, args ...interface{}) *Error {
	return newError(CodeServiceError, http.StatusBadGateway, format, args...)
}

func InternalError(format string, args ...interface{}) *Error {
	return newError(CodeInternalError, http.StatusInternalServerError, format, args...)
}

// Wrap attaches a cause to err and returns it.
func Wrap(err *Error, cause error) *Error {
	err.cause = cause
	return err
}

// CodeOf extracts the Code from err, or CodeInternalError for untyped errors.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternalError
}

// StatusOf extracts the HTTP status from err, defaulting to 500.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}
