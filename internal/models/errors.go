package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ErrorCode classifies an error for the HTTP layer and for retry decisions.
// Infrastructure errors are translated into one of these codes at the service
// boundary; nothing below the services returns raw driver errors to callers.
type ErrorCode string

const (
	ErrValidation            ErrorCode = "VALIDATION"
	ErrNotFound              ErrorCode = "NOT_FOUND"
	ErrConflict              ErrorCode = "CONFLICT"
	ErrRateLimited           ErrorCode = "RATE_LIMITED"
	ErrDependencyUnavailable ErrorCode = "DEPENDENCY_UNAVAILABLE"
	ErrTimeout               ErrorCode = "TIMEOUT"
	ErrIntegrity             ErrorCode = "INTEGRITY"
	ErrInternal              ErrorCode = "INTERNAL"
)

// AppError is the error type that crosses service boundaries.
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an AppError wrapping err.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Errorf creates an AppError with a formatted message and no cause.
func Errorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the ErrorCode from err, defaulting to INTERNAL.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsNotFound reports whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// ErrorCategory classifies a sync failure for the retry scheduler. Only the
// first four categories are schedulable; the last two short-circuit a job to
// its dead state.
type ErrorCategory string

const (
	CategoryTransientNetwork      ErrorCategory = "transient_network"
	CategoryRateLimited           ErrorCategory = "rate_limited"
	CategoryTimeout               ErrorCategory = "timeout"
	CategoryDependencyUnavailable ErrorCategory = "dependency_unavailable"
	CategoryInvalidInput          ErrorCategory = "invalid_input"
	CategoryTerminal              ErrorCategory = "terminal"
)

// IsRetriable reports whether a failure in this category may be rescheduled.
func (c ErrorCategory) IsRetriable() bool {
	switch c {
	case CategoryTransientNetwork, CategoryRateLimited, CategoryTimeout, CategoryDependencyUnavailable:
		return true
	default:
		return false
	}
}

// Classify maps an error to its retry category.
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryTerminal
	}
	switch CodeOf(err) {
	case ErrRateLimited:
		return CategoryRateLimited
	case ErrTimeout:
		return CategoryTimeout
	case ErrDependencyUnavailable:
		return CategoryDependencyUnavailable
	case ErrValidation:
		return CategoryInvalidInput
	case ErrNotFound, ErrConflict, ErrIntegrity:
		return CategoryTerminal
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryTransientNetwork
	}
	return CategoryTerminal
}

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
