package core

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when no record exists for (owner, id).
	ErrJobNotFound = errors.New("job not found")
	// ErrFileNotFound is returned when no file metadata exists for (owner, id).
	ErrFileNotFound = errors.New("file not found")
	// ErrBlobNotFound is returned when an object key has no stored object.
	ErrBlobNotFound = errors.New("object not found")
	// ErrConditionFailed is returned when a conditional update's predicate
	// does not hold on the stored record. It signals contention, not failure.
	ErrConditionFailed = errors.New("condition failed")
	// ErrInvalidKey is returned for owners or ids that cannot be used as store keys.
	ErrInvalidKey = errors.New("invalid key")
)

// Error codes used in API error responses.
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeInternalError  = "internal_error"
)

// APIError is an error reported to HTTP clients.
type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewInvalidRequestError creates an invalid_request error.
func NewInvalidRequestError(message string, details map[string]any) *APIError {
	return &APIError{Code: ErrCodeInvalidRequest, Message: message, Details: details}
}

// NewNotFoundError creates a not_found error for a resource.
func NewNotFoundError(resourceType, resourceID string) *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found.", resourceType, resourceID),
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	}
}

// NewConflictError creates a conflict error.
func NewConflictError(message string, details map[string]any) *APIError {
	return &APIError{Code: ErrCodeConflict, Message: message, Details: details}
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(message string) *APIError {
	return &APIError{Code: ErrCodeUnauthorized, Message: message}
}

// NewInternalError creates a retryable internal_error.
func NewInternalError(message string) *APIError {
	return &APIError{Code: ErrCodeInternalError, Message: message, Retryable: true}
}
