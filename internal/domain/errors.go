package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorTenantScope        ErrorCode = "TENANT_SCOPE_VIOLATION"
	ErrorNotFound           ErrorCode = "NOT_FOUND"
	ErrorPreconditionFailed ErrorCode = "PRECONDITION_FAILED"
	ErrorInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrorInvalidPayload     ErrorCode = "INVALID_PAYLOAD"
	ErrorUnsupportedAction  ErrorCode = "UNSUPPORTED_ACTION"
	ErrorMissingTenant      ErrorCode = "MISSING_TENANT"
	ErrorInferenceFailure   ErrorCode = "INFERENCE_FAILURE"
	ErrorAgentNotConfigured ErrorCode = "AGENT_NOT_CONFIGURED"
	ErrorInternal           ErrorCode = "INTERNAL_ERROR"
)

// Error is the typed failure every core component returns. Reason is a short
// snake_case token safe to surface to callers; Err carries the cause.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("flowops: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("flowops: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by code so callers can write
// errors.Is(err, &domain.Error{Code: domain.ErrorNotFound}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

func NewError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// ErrorInternal when there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return ErrorInternal
}

// ReasonOf returns the reason of the outermost *Error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Reason
	}
	return "unexpected_error"
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
