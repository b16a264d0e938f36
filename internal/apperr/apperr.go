// Package apperr carries a coarse error type through the service layer so
// handlers can map failures onto HTTP statuses without string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Type string

const (
	TypeValidation   Type = "validation_error"
	TypeNotFound     Type = "not_found"
	TypeUnauthorized Type = "unauthorized"
	TypeForbidden    Type = "forbidden"
	TypeConflict     Type = "conflict"
	TypeConfig       Type = "config_error"
	TypeInternal     Type = "internal_error"
)

type Error struct {
	Type    Type
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(t Type, msg string, err error) *Error {
	return &Error{Type: t, Message: msg, Err: err}
}

func NotFound(msg string) *Error     { return New(TypeNotFound, msg, nil) }
func Forbidden(msg string) *Error    { return New(TypeForbidden, msg, nil) }
func Validation(msg string) *Error   { return New(TypeValidation, msg, nil) }
func Conflict(msg string) *Error     { return New(TypeConflict, msg, nil) }
func Unauthorized(msg string) *Error { return New(TypeUnauthorized, msg, nil) }

func Config(msg string) *Error { return New(TypeConfig, msg, nil) }

func Internal(msg string, err error) *Error { return New(TypeInternal, msg, err) }

// TypeOf returns the type of the first *Error in err's chain, or TypeInternal.
func TypeOf(err error) Type {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return TypeInternal
}

func Is(err error, t Type) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}

// MessageOf returns the client-safe message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
