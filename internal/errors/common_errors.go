package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures seen by the collection pipeline
type ErrorType string

const (
	ErrTypeAuthentication ErrorType = "AUTHENTICATION"
	ErrTypeQuota          ErrorType = "QUOTA_EXCEEDED"
	ErrTypeTransient      ErrorType = "TRANSIENT_NETWORK"
	ErrTypeApplication    ErrorType = "APPLICATION"
	ErrTypeValidation     ErrorType = "VALIDATION"
	ErrTypeStorage        ErrorType = "STORAGE"
	ErrTypeConfig         ErrorType = "CONFIG"
	ErrTypeNotFound       ErrorType = "NOT_FOUND"
	ErrTypeInternal       ErrorType = "INTERNAL"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError of the same type.
// A target with an empty message matches any error of that type.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && (t.Message == "" || t.Message == e.Message)
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Sentinels for errors.Is checks against a whole category.
var (
	ErrAuthentication = &AppError{Type: ErrTypeAuthentication}
	ErrQuotaExceeded  = &AppError{Type: ErrTypeQuota}
	ErrTransient      = &AppError{Type: ErrTypeTransient}
	ErrApplication    = &AppError{Type: ErrTypeApplication}
)

// NewAuthenticationError creates an error for rejected or missing credentials
func NewAuthenticationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeAuthentication, message, cause)
}

// NewQuotaExceededError creates an error for an endpoint that hit its daily cap
func NewQuotaExceededError(endpoint string, count, quota int) *AppError {
	return NewAppError(ErrTypeQuota, fmt.Sprintf("daily quota exhausted for %s", endpoint), nil).
		WithContext("endpoint", endpoint).
		WithContext("count", count).
		WithContext("quota", quota)
}

// NewTransientError creates a retryable network error
func NewTransientError(message string, cause error) *AppError {
	return NewAppError(ErrTypeTransient, message, cause)
}

// NewApplicationError creates an error for a 200 response carrying an error code
func NewApplicationError(code, message string) *AppError {
	return NewAppError(ErrTypeApplication, fmt.Sprintf("upstream returned code %s: %s", code, message), nil).
		WithContext("code", code)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewAppValidationError creates a validation error for AppError type
func NewAppValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// TypeOf returns the ErrorType of the first AppError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsFatal reports whether err must stop a batch: authentication and quota failures.
func IsFatal(err error) bool {
	switch TypeOf(err) {
	case ErrTypeAuthentication, ErrTypeQuota:
		return true
	}
	return false
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return TypeOf(err) == ErrTypeTransient
}
