// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes returned to callers of the public operations.
const (
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeNotFound              = "NOT_FOUND"
	CodeNotActive             = "NOT_ACTIVE"
	CodeMaxConcurrentExceeded = "MAX_CONCURRENT_EXCEEDED"
	CodeAlreadyFinished       = "ALREADY_FINISHED"
	CodeInvalidStatus         = "INVALID_STATUS"
	CodeHasRunningExecutions  = "HAS_RUNNING_EXECUTIONS"
	CodeInvalidSortField      = "INVALID_SORT_FIELD"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrWorkflowNil      = errors.New("workflow cannot be nil")

	// Lookup Errors (404 Not Found).
	ErrNotFound = errors.New("not found")

	// Business Logic Conflicts (409 Conflict).
	ErrNotActive             = errors.New("workflow is not active")
	ErrMaxConcurrentExceeded = errors.New("maximum concurrent executions exceeded")
	ErrAlreadyFinished       = errors.New("execution already finished")
	ErrInvalidStatus         = errors.New("invalid execution status")
	ErrHasRunningExecutions  = errors.New("workflow has running executions")
)

// FieldError names one violated field of a validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string       // Operation name
	Code    string       // Error code for API responses
	Message string       // Human-readable message
	Fields  []FieldError // Every violated field, for VALIDATION_FAILED
	Err     error        // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewServiceError creates a coded error with context.
func NewServiceError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates a VALIDATION_FAILED error listing every violated field.
func NewValidationError(op string, fields []FieldError) *ServiceError {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Field+": "+f.Message)
	}

	return &ServiceError{
		Op:      op,
		Code:    CodeValidationFailed,
		Message: "validation failed: " + strings.Join(names, "; "),
		Fields:  fields,
		Err:     ErrValidationFailed,
	}
}

// CodeOf returns the code of the first ServiceError in err's chain, or "".
func CodeOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code
	}

	return ""
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrWorkflowNil)
}

// IsNotFound checks if an error should return HTTP 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrMaxConcurrentExceeded) ||
		errors.Is(err, ErrAlreadyFinished) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrHasRunningExecutions)
}

// NotFound creates a NOT_FOUND error for the given entity kind.
func NotFound(op, kind, id string) *ServiceError {
	return NewServiceError(op, CodeNotFound, fmt.Sprintf("%s %s not found", kind, id), ErrNotFound)
}
