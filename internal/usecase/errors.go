package usecase

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures that reach the transport layer.
type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

// Error is returned by ChatService for failures the caller must see. Reason is
// a stable snake_case tag for logs.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("usecase: %s/%s", e.Code, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Classify returns the code and reason carried by err. Errors that are not
// an *Error classify as ErrorInternal with an empty reason.
func Classify(err error) (ErrorCode, string) {
	var ucErr *Error
	if errors.As(err, &ucErr) && ucErr != nil {
		return ucErr.Code, ucErr.Reason
	}
	return ErrorInternal, ""
}
