package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCommonErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ErrClosed", ErrClosed, "resource is closed"},
		{"ErrTimeout", ErrTimeout, "operation timed out"},
		{"ErrCapacityExceeded", ErrCapacityExceeded, "capacity exceeded"},
		{"ErrInvalidConfiguration", ErrInvalidConfiguration, "invalid configuration"},
		{"ErrRateLimited", ErrRateLimited, "rate limited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "without hint",
			err: &ValidationError{
				Module: "workerpool",
				Field:  "workers",
				Value:  0,
				Reason: "must be positive",
			},
			want: "workerpool: invalid workers=0 (must be positive)",
		},
		{
			name: "with hint",
			err: &ValidationError{
				Module: "workerpool",
				Field:  "queue_size",
				Value:  500,
				Reason: "must be between 1 and 200",
				Hint:   "the queue is allocated up front",
			},
			want: "workerpool: invalid queue_size=500 (must be between 1 and 200) - the queue is allocated up front",
		},
		{
			name: "string value",
			err: &ValidationError{
				Module: "server",
				Field:  "root",
				Value:  "",
				Reason: "cannot be empty",
			},
			want: "server: invalid root= (cannot be empty)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_Unwrap(t *testing.T) {
	verr := NewValidationError("workerpool", "workers", -1, "must be positive")

	if !errors.Is(verr, ErrInvalidConfiguration) {
		t.Error("ValidationError should wrap ErrInvalidConfiguration")
	}

	wrapped := fmt.Errorf("create pool: %w", verr)
	if !errors.Is(wrapped, ErrInvalidConfiguration) {
		t.Error("wrapped ValidationError should still match ErrInvalidConfiguration")
	}
}

func TestValidationError_WithHint(t *testing.T) {
	err := NewValidationError("server", "max_requests", -3, "cannot be negative")
	if err.Hint != "" {
		t.Errorf("Hint = %q, want empty string", err.Hint)
	}

	result := err.WithHint("use 0 for unlimited")
	if result != err {
		t.Error("WithHint should return the same instance")
	}
	if err.Hint != "use 0 for unlimited" {
		t.Errorf("Hint = %q, want %q", err.Hint, "use 0 for unlimited")
	}
}

func TestOperationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *OperationError
		want string
	}{
		{
			name: "without context",
			err: &OperationError{
				Module:    "workerpool",
				Operation: "New",
				Cause:     errors.New("worker 3 failed to start"),
			},
			want: "workerpool.New failed: worker 3 failed to start",
		},
		{
			name: "with context",
			err: &OperationError{
				Module:    "server",
				Operation: "Listen",
				Cause:     errors.New("address in use"),
				Context:   ":8080",
			},
			want: "server.Listen failed: address in use (:8080)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOperationError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	opErr := NewOperationError("workerpool", "New", cause).WithContext("rollback complete")

	if opErr.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", opErr.Unwrap(), cause)
	}
	if !errors.Is(opErr, cause) {
		t.Error("OperationError should wrap the cause error")
	}
	if opErr.Context != "rollback complete" {
		t.Errorf("Context = %q", opErr.Context)
	}
}

func TestIsValidationError(t *testing.T) {
	verr := &ValidationError{Module: "workerpool", Field: "workers", Value: 0, Reason: "must be positive"}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation error", verr, true},
		{"wrapped validation error", &OperationError{Cause: verr}, true},
		{"operation error", &OperationError{Cause: errors.New("boom")}, false},
		{"closed error", ErrClosed, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidationError(tt.err); got != tt.want {
				t.Errorf("IsValidationError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	err := NewValidationError("workerpool", "workers", 201, "must be between 1 and 200").
		WithHint("raise MaxWorkers only together with the file descriptor limit")

	msg := err.Error()
	for _, part := range []string{"workerpool", "workers", "201", "between 1 and 200", "file descriptor"} {
		if !strings.Contains(msg, part) {
			t.Errorf("error message should contain %q, got %q", part, msg)
		}
	}
}
