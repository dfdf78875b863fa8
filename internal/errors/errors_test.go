package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name       string
		err        *AppError
		wantType   ErrorType
		wantStatus int
	}{
		{"validation", NewValidationError("bad key", cause), ErrorTypeValidation, http.StatusBadRequest},
		{"unauthorized", NewUnauthorizedError("bad password", nil), ErrorTypeUnauthorized, http.StatusUnauthorized},
		{"processing", NewProcessingError("no pages", cause), ErrorTypeProcessing, http.StatusUnprocessableEntity},
		{"not found", NewNotFoundError("no session", nil), ErrorTypeNotFound, http.StatusNotFound},
		{"timeout", NewTimeoutError("slow", nil), ErrorTypeTimeout, http.StatusGatewayTimeout},
		{"unknown type", New(ErrorType("teapot"), "odd", nil), ErrorType("teapot"), http.StatusInternalServerError},
		{"internal", NewInternalError("oops", nil), ErrorTypeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Expected type %s, got %s", tt.wantType, tt.err.Type)
			}
			if tt.err.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, tt.err.StatusCode)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewProcessingError("marking failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Expected cause to be reachable through Unwrap")
	}
	if err.Error() != "processing: marking failed (caused by: root cause)" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func TestGetStatusCode_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", NewUnauthorizedError("missing token", nil))
	if got := GetStatusCode(wrapped); got != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", got)
	}
	if !IsType(wrapped, ErrorTypeUnauthorized) {
		t.Error("Expected wrapped error to match its type")
	}
	if got := GetStatusCode(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("Expected 500 for plain errors, got %d", got)
	}
}

func TestWithDetails(t *testing.T) {
	err := NewValidationError("invalid answer key", nil).WithDetails("qr")
	if err.Details != "qr" {
		t.Errorf("Expected details qr, got %q", err.Details)
	}
	if err.Error() != "validation: invalid answer key [qr]" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}
