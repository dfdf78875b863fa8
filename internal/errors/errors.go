package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeProcessing   ErrorType = "processing"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeInternal     ErrorType = "internal"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation:   http.StatusBadRequest,
	ErrorTypeProcessing:   http.StatusUnprocessableEntity,
	ErrorTypeTimeout:      http.StatusGatewayTimeout,
	ErrorTypeUnauthorized: http.StatusUnauthorized,
	ErrorTypeNotFound:     http.StatusNotFound,
	ErrorTypeInternal:     http.StatusInternalServerError,
}

// AppError is an error with a user-facing message and an HTTP status.
// Details usually names the failing section or upload field.
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		msg += " [" + e.Details + "]"
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches a detail string and returns e.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// New creates an error of the given type. Unknown types map to 500.
func New(t ErrorType, message string, cause error) *AppError {
	status, ok := statusByType[t]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &AppError{Type: t, Message: message, StatusCode: status, Cause: cause}
}

// NewValidationError reports bad input: keys, uploads, manifests.
func NewValidationError(message string, cause error) *AppError {
	return New(ErrorTypeValidation, message, cause)
}

// NewProcessingError reports input that was valid but could not be marked.
func NewProcessingError(message string, cause error) *AppError {
	return New(ErrorTypeProcessing, message, cause)
}

func NewTimeoutError(message string, cause error) *AppError {
	return New(ErrorTypeTimeout, message, cause)
}

func NewInternalError(message string, cause error) *AppError {
	return New(ErrorTypeInternal, message, cause)
}

func NewUnauthorizedError(message string, cause error) *AppError {
	return New(ErrorTypeUnauthorized, message, cause)
}

func NewNotFoundError(message string, cause error) *AppError {
	return New(ErrorTypeNotFound, message, cause)
}

// As finds the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err wraps an AppError of type t.
func IsType(err error, t ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == t
}

// GetStatusCode returns the status of the first AppError in err's chain,
// or 500.
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
