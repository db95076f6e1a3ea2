// Package apperr defines the error taxonomy shared by the booking core and its transports.
// Every error carries a Kind that decides how callers react and a stable Code that
// clients can match on.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

const (
	CodeValidation               = "VALIDATION_ERROR"
	CodeInvalidDates             = "INVALID_DATES"
	CodeOccupancyExceeded        = "OCCUPANCY_EXCEEDED"
	CodeStayAlreadyStarted       = "STAY_ALREADY_STARTED"
	CodeNotFound                 = "NOT_FOUND"
	CodeUnauthorized             = "UNAUTHORIZED"
	CodeForbidden                = "FORBIDDEN"
	CodeConflict                 = "CONFLICT"
	CodeInsufficientAvailability = "INSUFFICIENT_AVAILABILITY"
	CodeAlreadyCancelled         = "ALREADY_CANCELLED"
	CodeCannotCancelCompleted    = "CANNOT_CANCEL_COMPLETED"
	CodeRateLimited              = "RATE_LIMITED"
	CodeInternal                 = "INTERNAL_ERROR"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so package-level values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInsufficientAvailability = &Error{Kind: KindConflict, Code: CodeInsufficientAvailability, Message: "not enough rooms available for the selected dates"}
	ErrAlreadyCancelled         = &Error{Kind: KindConflict, Code: CodeAlreadyCancelled, Message: "booking is already cancelled"}
	ErrCannotCancelCompleted    = &Error{Kind: KindConflict, Code: CodeCannotCancelCompleted, Message: "cannot cancel a completed booking"}
	ErrStayAlreadyStarted       = &Error{Kind: KindValidation, Code: CodeStayAlreadyStarted, Message: "cannot cancel a booking after check-in date"}
	ErrOccupancyExceeded        = &Error{Kind: KindValidation, Code: CodeOccupancyExceeded, Message: "total guests exceed room capacity"}
	ErrRateLimited              = &Error{Kind: KindConflict, Code: CodeRateLimited, Message: "too many booking attempts, try again later"}
)

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(message string) *Error {
	return New(KindValidation, CodeValidation, message)
}

func Validationf(format string, args ...any) *Error {
	return Validation(fmt.Sprintf(format, args...))
}

func InvalidDates(err error) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidDates, Message: err.Error(), Err: err}
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, CodeNotFound, fmt.Sprintf(format, args...))
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, CodeUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(KindUnauthorized, CodeForbidden, message)
}

func Conflict(message string, err error) *Error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Message: message, Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: message, Err: err}
}

// With returns a copy of a package-level error carrying a more specific message.
func (e *Error) With(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// From extracts the *Error from err's chain. Anything outside the taxonomy is internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal server error", err)
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}

func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return From(err).Code
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
