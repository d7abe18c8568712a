package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeAuthentication   ErrorType = "authentication"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeTransient        ErrorType = "transient"
	ErrorTypeRetryExhausted   ErrorType = "retry_exhausted"
	ErrorTypeCircuitOpen      ErrorType = "circuit_open"
	ErrorTypeDeliveryRejected ErrorType = "delivery_rejected"
	ErrorTypeInternal         ErrorType = "internal"
)

// Typed is implemented by errors that carry an ErrorType without being an *AppError.
type Typed interface {
	ErrorType() ErrorType
}

// AppError represents an application error with context
type AppError struct {
	Type       ErrorType         `json:"type"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	StatusCode int               `json:"status_code,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Cause      error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// ErrorType implements Typed
func (e *AppError) ErrorType() ErrorType {
	return e.Type
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithStatusCode records the HTTP status that produced the error
func (e *AppError) WithStatusCode(code int) *AppError {
	e.StatusCode = code
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewAuthenticationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthentication, "AUTHENTICATION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

// NewTransientError describes a connection failure, timeout or 5xx from a remote service.
func NewTransientError(service, message string) *AppError {
	return NewAppError(ErrorTypeTransient, "TRANSIENT_NETWORK_ERROR", message).
		WithDetail("service", service)
}

// NewDeliveryRejectedError is returned when the analysis API answered but not with success.
func NewDeliveryRejectedError(message string) *AppError {
	return NewAppError(ErrorTypeDeliveryRejected, "DELIVERY_REJECTED", message)
}

// IsType checks if the error, or anything it wraps, is of a specific type
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		if typed, ok := err.(Typed); ok && typed.ErrorType() == errorType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsNotFound reports whether err is a not_found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the outermost error type found in the chain
func GetType(err error) ErrorType {
	for err != nil {
		if typed, ok := err.(Typed); ok {
			return typed.ErrorType()
		}
		err = stderrors.Unwrap(err)
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status recorded on the first AppError in the chain
func GetStatusCode(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}
