package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
	}{
		{
			name:      "Basic error",
			code:      ErrCodeInvalidInput,
			message:   "Invalid measurement series",
			details:   "treatment_start is required",
			requestID: "req-123",
		},
		{
			name:      "Database error",
			code:      ErrCodeDatabase,
			message:   "Database connection failed",
			details:   "Unable to connect to PostgreSQL",
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now().UTC()
			err := NewAPIError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}
			if err.Message != tt.message {
				t.Errorf("Expected message %s, got %s", tt.message, err.Message)
			}
			if err.Details != tt.details {
				t.Errorf("Expected details %s, got %s", tt.details, err.Details)
			}
			if err.RequestID != tt.requestID {
				t.Errorf("Expected requestID %s, got %s", tt.requestID, err.RequestID)
			}
			if err.Timestamp.Before(before) {
				t.Error("Timestamp should be set at creation")
			}
			if err.Error() != fmt.Sprintf("%s: %s", tt.code, tt.message) {
				t.Errorf("unexpected Error() %q", err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("hrd_score", "must be between 0 and 100", 140.0)
	want := "validation error for field 'hrd_score': must be between 0 and 100"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should unwrap to ErrInvalidInput")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", fmt.Errorf("wrap: %w", NewValidationError("x", "y", nil)), ErrCodeValidation},
		{"not found", fmt.Errorf("profile p1: %w", ErrNotFound), ErrCodeNotFound},
		{"conflict", fmt.Errorf("profile p1: %w", ErrAlreadyExists), ErrCodeConflict},
		{"external", fmt.Errorf("%w: clinvar down", ErrExternalAPI), ErrCodeExternalAPI},
		{"unknown code", fmt.Errorf("%w: PX9", ErrUnknownEvidenceCode), ErrCodeInvalidInput},
		{"api error", NewAPIError(ErrCodeExternalAPI, "down", "", ""), ErrCodeExternalAPI},
		{"other", errors.New("boom"), ErrCodeInternalServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
