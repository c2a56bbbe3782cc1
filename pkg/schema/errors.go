package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeTransitionCondition = "TRANSITION_CONDITION_UNMET"
	ErrCodeCheckpointNotFound  = "CHECKPOINT_NOT_FOUND"
	ErrCodeStepFailed          = "STEP_FAILED"
	ErrCodeStepTimeout         = "STEP_TIMEOUT"
	ErrCodeInvalidStep         = "INVALID_STEP"
	ErrCodeStepLoopLimit       = "STEP_LOOP_LIMIT"
	ErrCodeHookCancelled       = "HOOK_CANCELLED"
	ErrCodeCancelled           = "CANCELLED"
	ErrCodeIO                  = "IO_ERROR"
	ErrCodeExecution           = "EXECUTION_ERROR"
	ErrCodeActionUnavailable   = "ACTION_UNAVAILABLE"
	ErrCodeAssertionFailed     = "ASSERTION_FAILED"
	ErrCodeInterpolation       = "INTERPOLATION_ERROR"
)

// Error is the structured error type for all stepflow operations.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *Error) WithStep(stepID string) *Error {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IOError wraps a persistence failure.
func IOError(op string, err error) *Error {
	return NewErrorf(ErrCodeIO, "%s: %s", op, err.Error()).WithCause(err)
}
