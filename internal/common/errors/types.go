package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
	// ErrTypeInvalidPolicy represents a malformed window policy string
	ErrTypeInvalidPolicy ErrorType = "invalid_policy_format"
	// ErrTypeInvalidArgument represents a limiter call with unusable input
	ErrTypeInvalidArgument ErrorType = "invalid_argument"
	// ErrTypeStoreUnavailable represents a failure reaching the counter store
	ErrTypeStoreUnavailable ErrorType = "store_unavailable"
	// ErrTypeLockTimeout represents a per-key lock that could not be acquired in time
	ErrTypeLockTimeout ErrorType = "lock_timeout"
	// ErrTypeUnauthenticated represents a missing identity for per-user limiting
	ErrTypeUnauthenticated ErrorType = "unauthenticated"
	// ErrTypeRateLimit represents rate limit errors
	ErrTypeRateLimit ErrorType = "rate_limit"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// InvalidPolicyError reports a policy string that does not match the window grammar.
func InvalidPolicyError(policy, reason string) *AppError {
	return &AppError{
		Type:    ErrTypeInvalidPolicy,
		Message: fmt.Sprintf("invalid rate limit policy %q: %s", policy, reason),
		Context: map[string]interface{}{"policy": policy},
	}
}

// InvalidArgumentError creates a new invalid argument error
func InvalidArgumentError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeInvalidArgument,
		Message: msg,
	}
}

// StoreUnavailableError creates a new store unavailable error
func StoreUnavailableError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeStoreUnavailable,
		Message: msg,
		Cause:   cause,
	}
}

// LockTimeoutError reports that the lock for key was not acquired before the deadline.
func LockTimeoutError(key string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeLockTimeout,
		Message: fmt.Sprintf("timed out acquiring lock for %s", key),
		Cause:   cause,
		Context: map[string]interface{}{"key": key},
	}
}

// UnauthenticatedError creates a new unauthenticated error
func UnauthenticatedError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeUnauthenticated,
		Message: msg,
	}
}

// RateLimitError creates a new rate limit error
func RateLimitError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeRateLimit,
		Message: fmt.Sprintf("rate limit exceeded for %s", resource),
	}
}

// IsType checks if an error, or any error it wraps, is an AppError of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}

// IsStoreFailure reports whether err means the counter store could not give an answer.
// Lock timeouts are grouped with store outages.
func IsStoreFailure(err error) bool {
	return IsType(err, ErrTypeStoreUnavailable) || IsType(err, ErrTypeLockTimeout)
}

// HTTPStatus maps an error to the status code a handler should answer with
func HTTPStatus(err error) int {
	switch GetType(err) {
	case "":
		return http.StatusOK
	case ErrTypeValidation, ErrTypeInvalidPolicy:
		return http.StatusBadRequest
	case ErrTypeUnauthenticated:
		return http.StatusUnauthorized
	case ErrTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrTypeStoreUnavailable, ErrTypeLockTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
