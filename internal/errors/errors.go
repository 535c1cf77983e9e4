// Package errors defines the typed error taxonomy surfaced by portal
// services. Every failure returned across a service boundary is a
// *ServiceError carrying a stable code and its HTTP status.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode identifies the kind of failure.
type ErrorCode string

const (
	CodeValidation   ErrorCode = "VALIDATION_ERROR"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodePermission   ErrorCode = "PERMISSION_DENIED"
	CodeConflict     ErrorCode = "CONFLICT"
	CodeConstraint   ErrorCode = "CONSTRAINT_VIOLATION"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeRateLimited  ErrorCode = "RATE_LIMITED"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is the error type returned by portal services.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches another ServiceError by code, so errors.Is(err, &ServiceError{Code: CodeNotFound})
// works without comparing messages.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails attaches a detail entry and returns the same error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Validation reports missing or malformed input.
func Validation(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil)
}

// Required reports a missing required field.
func Required(field string) *ServiceError {
	return Validation(field+" is required").WithDetails("field", field)
}

// NotFound reports a missing entity.
func NotFound(kind, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s %s not found", kind, id), nil).
		WithDetails("kind", kind).
		WithDetails("id", id)
}

// PermissionDenied reports that the principal may not perform action.
func PermissionDenied(action string) *ServiceError {
	return newError(CodePermission, http.StatusForbidden, "not permitted to "+action, nil).
		WithDetails("action", action)
}

// Conflict reports an unresolved concurrent-write conflict.
func Conflict(message string, err error) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, err)
}

// Constraint reports a referential-integrity violation. offenders lists the
// entities that block the operation.
func Constraint(message string, offenders []string) *ServiceError {
	return newError(CodeConstraint, http.StatusConflict, message, nil).
		WithDetails("offenders", offenders)
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(message string) *ServiceError {
	if strings.TrimSpace(message) == "" {
		message = "authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// RateLimitExceeded reports that a caller exceeded its request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError returns the first ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// Offenders returns the offender list carried by a constraint error.
func Offenders(err error) []string {
	se := GetServiceError(err)
	if se == nil || se.Details == nil {
		return nil
	}
	offenders, _ := se.Details["offenders"].([]string)
	return offenders
}

func hasCode(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

func IsValidation(err error) bool { return hasCode(err, CodeValidation) }
func IsNotFound(err error) bool   { return hasCode(err, CodeNotFound) }
func IsPermission(err error) bool { return hasCode(err, CodePermission) }
func IsConflict(err error) bool   { return hasCode(err, CodeConflict) }
func IsConstraint(err error) bool { return hasCode(err, CodeConstraint) }
