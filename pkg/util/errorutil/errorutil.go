package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes rendered to clients.
const (
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeConflict          = "CONFLICT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInconsistency     = "INCONSISTENCY"
	CodeRateLimited       = "RATE_LIMITED"
	CodeServerBusy        = "SERVER_BUSY"
	CodeInternal          = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

// NewValidationError reports malformed input; details map field names to messages.
func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

// NewNotFound reports a missing resource. The identifier is included in the message.
func NewNotFound(resource, id string) error {
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found with id: %s", resource, id),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"resource": resource, "id": id},
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

// NewForbidden reports an authenticated caller lacking role or ownership.
func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewInvalidTransition reports an attempt to move an issue out of a terminal state.
func NewInvalidTransition(message string, details map[string]any) error {
	return NewDomainError(CodeInvalidTransition, message, http.StatusConflict, details)
}

// NewInconsistency reports a partially applied cross-entity write that needs reconciliation.
func NewInconsistency(message string, details map[string]any, err error) error {
	return &DomainError{
		Code:       CodeInconsistency,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Details:    details,
		Err:        err,
	}
}

// NewRateLimited reports a request rejected by the rate limiter.
func NewRateLimited() error {
	return NewDomainError(CodeRateLimited, "too many requests", http.StatusTooManyRequests, nil)
}

// NewServerBusy reports a request that could not get a processing slot in time.
func NewServerBusy() error {
	return NewDomainError(CodeServerBusy, "server busy", http.StatusServiceUnavailable, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether err carries the given domain error code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Code == code
}
