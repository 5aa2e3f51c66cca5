package modelservice

import (
	"errors"
	"fmt"
)

// ErrorCode classifies model service failures for callers that branch on
// failure mode (retry, degrade, or abort the stage).
type ErrorCode string

const (
	CodeNetworkError         ErrorCode = "network_error"
	CodeInvalidResponse      ErrorCode = "invalid_response"
	CodeTaskTimeout          ErrorCode = "task_timeout"
	CodeTaskFailed           ErrorCode = "task_failed"
	CodeAuthError            ErrorCode = "auth_error"
	CodeRateLimited          ErrorCode = "rate_limited"
	CodeSelectionUnavailable ErrorCode = "selection_unavailable"
)

// Error is the typed failure returned by every client operation.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("model service: %s: %s", e.Op, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the error code, or empty when err is not a client error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code ErrorCode, op, message string, err error) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}
