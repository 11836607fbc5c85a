// Package errors provides the event processor's structured error
// taxonomy, following the teacher's ServiceError/ErrorCode pattern.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of failure. Values and groupings
// mirror spec.md §7's error handling design.
type ErrorCode string

const (
	// Upstream AWS Health failures.
	ErrCodeUpstreamAuth     ErrorCode = "UPSTREAM_AUTH"
	ErrCodeUpstreamThrottle ErrorCode = "UPSTREAM_THROTTLE"
	ErrCodeUpstreamInvalid  ErrorCode = "UPSTREAM_INVALID"

	// Bedrock analyzer failures.
	ErrCodeAnalyzerThrottle    ErrorCode = "ANALYZER_THROTTLE"
	ErrCodeAnalyzerUnavailable ErrorCode = "ANALYZER_UNAVAILABLE"

	// Record store failures.
	ErrCodeStoreConflict    ErrorCode = "STORE_CONFLICT"
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// Queue failures.
	ErrCodeQueueUnavailable ErrorCode = "QUEUE_UNAVAILABLE"

	// Cross-cutting.
	ErrCodeTimeout    ErrorCode = "TIMEOUT"
	ErrCodeValidation ErrorCode = "VALIDATION"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
)

// ServiceError is a structured error carrying a classification code,
// a human-readable message, optional structured details, and the
// underlying cause.
type ServiceError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a structured detail and returns the receiver
// for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError with no wrapped cause.
func New(code ErrorCode, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// Wrap creates a ServiceError wrapping an existing error.
func Wrap(code ErrorCode, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Err: err}
}

// Constructors, one per error kind in spec.md §7.

func UpstreamAuth(err error) *ServiceError {
	return Wrap(ErrCodeUpstreamAuth, "AWS Health organization view is not enabled or credentials are invalid", err)
}

func UpstreamThrottle(err error) *ServiceError {
	return Wrap(ErrCodeUpstreamThrottle, "AWS Health API request was throttled", err)
}

func UpstreamInvalid(operation string, err error) *ServiceError {
	return Wrap(ErrCodeUpstreamInvalid, "AWS Health API returned an unexpected response", err).
		WithDetails("operation", operation)
}

func AnalyzerThrottle(consecutiveThrottles int, err error) *ServiceError {
	return Wrap(ErrCodeAnalyzerThrottle, "Bedrock invocation was throttled", err).
		WithDetails("consecutiveThrottles", consecutiveThrottles)
}

func AnalyzerUnavailable(err error) *ServiceError {
	return Wrap(ErrCodeAnalyzerUnavailable, "Bedrock model invocation failed", err)
}

func StoreConflict(eventARN, accountID string, err error) *ServiceError {
	return Wrap(ErrCodeStoreConflict, "record store conditional write failed", err).
		WithDetails("eventArn", eventARN).
		WithDetails("accountId", accountID)
}

func StoreUnavailable(operation string, err error) *ServiceError {
	return Wrap(ErrCodeStoreUnavailable, "record store is unavailable", err).
		WithDetails("operation", operation)
}

func QueueUnavailable(operation string, err error) *ServiceError {
	return Wrap(ErrCodeQueueUnavailable, "work queue is unavailable", err).
		WithDetails("operation", operation)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out").WithDetails("operation", operation)
}

func Validation(field, reason string) *ServiceError {
	return New(ErrCodeValidation, "validation failed").
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found").
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// IsServiceError reports whether err is (or wraps) a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// Code extracts the ErrorCode from an error chain, or "" if err does
// not wrap a ServiceError.
func Code(err error) ErrorCode {
	if se := GetServiceError(err); se != nil {
		return se.Code
	}
	return ""
}

// IsRetryable reports whether the error kind represents a transient
// condition the caller should retry (throttling, timeouts,
// unavailability) as opposed to a permanent one (auth, validation,
// not found, conflict).
func IsRetryable(err error) bool {
	switch Code(err) {
	case ErrCodeUpstreamThrottle, ErrCodeAnalyzerThrottle, ErrCodeAnalyzerUnavailable,
		ErrCodeStoreUnavailable, ErrCodeQueueUnavailable, ErrCodeTimeout:
		return true
	default:
		return false
	}
}
