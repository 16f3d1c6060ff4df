// internal/core/errors.go
package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Predefined errors
var (
	// Missing data: a recoverable absence, the caller degrades gracefully.
	ErrNoData = &Error{Code: "NO_DATA", Message: "no data available"}

	// Expert errors
	ErrExpertFailed  = &Error{Code: "EXPERT_FAILED", Message: "expert evaluation failed"}
	ErrExpertTimeout = &Error{Code: "EXPERT_TIMEOUT", Message: "expert evaluation timeout"}

	// Data corruption: a single bad data point, rejected and counted.
	ErrBadDataPoint = &Error{Code: "BAD_DATA_POINT", Message: "malformed data point"}

	// I/O failures
	ErrLogWrite = &Error{Code: "LOG_WRITE_FAILED", Message: "run log write failed"}

	// Config errors are fatal before the loop starts.
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}

	// LLM errors
	ErrLLMFailed  = &Error{Code: "LLM_FAILED", Message: "LLM request failed"}
	ErrLLMTimeout = &Error{Code: "LLM_TIMEOUT", Message: "LLM request timeout"}
)
