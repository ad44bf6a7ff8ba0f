package model

import (
	"fmt"
	"time"
)

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrConflict     ErrorCode = "CONFLICT"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrRateLimited  ErrorCode = "RATE_LIMITED"
	ErrUnavailable  ErrorCode = "UNAVAILABLE"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the API.
// ResetAt is set on rate-limit rejections, ConflictID on duplicate rejections.
type APIError struct {
	Code       ErrorCode    `json:"code"`
	Message    string       `json:"message"`
	Reason     string       `json:"reason,omitempty"`
	ResetAt    *time.Time   `json:"reset_at,omitempty"`
	ConflictID string       `json:"conflict_id,omitempty"`
	Details    []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewInternalError creates an INTERNAL_ERROR APIError. The message is fixed
// so that internal detail never reaches the caller.
func NewInternalError() *APIError {
	return &APIError{Code: ErrInternal, Message: "internal error"}
}

// InvalidTransitionError is returned when a status transition is invalid.
type InvalidTransitionError struct {
	ID   string
	From SubmissionStatus
	To   SubmissionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid submission status transition: %s → %s (submission %s)", e.From, e.To, e.ID)
}
