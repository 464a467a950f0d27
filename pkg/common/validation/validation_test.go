package validation

import (
	stderrors "errors"
	"testing"

	"github.com/vnykmshr/poolserve/pkg/common/errors"
)

func assertValidation(t *testing.T, err error, wantError bool) {
	t.Helper()
	if !wantError {
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		return
	}
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.IsValidationError(err) {
		t.Errorf("expected ValidationError, got %T", err)
	}
	if !stderrors.Is(err, errors.ErrInvalidConfiguration) {
		t.Errorf("expected error to wrap ErrInvalidConfiguration, got %v", err)
	}
}

func TestValidatePositive(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		wantError bool
	}{
		{"one", 1, false},
		{"large", 1000000, false},
		{"zero", 0, true},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertValidation(t, ValidatePositive("workerpool", "workers", tt.value), tt.wantError)
		})
	}
}

func TestValidateRange(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		min, max  int
		wantError bool
	}{
		{"lower bound", 1, 1, 200, false},
		{"upper bound", 200, 1, 200, false},
		{"middle", 17, 1, 200, false},
		{"below", 0, 1, 200, true},
		{"above", 201, 1, 200, true},
		{"negative", -5, 1, 200, true},
		{"port", 65535, 1, 65535, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertValidation(t, ValidateRange("workerpool", "queue_size", tt.value, tt.min, tt.max), tt.wantError)
		})
	}
}

func TestValidateRangeDetails(t *testing.T) {
	err := ValidateRange("workerpool", "workers", 500, 1, 200)

	verr, ok := err.(*errors.ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Module != "workerpool" || verr.Field != "workers" {
		t.Errorf("unexpected module/field: %s/%s", verr.Module, verr.Field)
	}
	if verr.Value != 500 {
		t.Errorf("Value = %v, want 500", verr.Value)
	}
	if verr.Reason != "must be between 1 and 200" {
		t.Errorf("Reason = %q", verr.Reason)
	}
	if verr.Hint != "use a value in [1, 200]" {
		t.Errorf("Hint = %q", verr.Hint)
	}
}

func TestValidateNonNegative(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		wantError bool
	}{
		{"zero", 0, false},
		{"positive", 10.5, false},
		{"small negative", -0.001, true},
		{"large negative", -99999.99, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertValidation(t, ValidateNonNegative("server", "accept_rate", tt.value), tt.wantError)
		})
	}
}

func TestValidateNotNil(t *testing.T) {
	tests := []struct {
		name      string
		value     interface{}
		wantError bool
	}{
		{"int", 123, false},
		{"struct", struct{}{}, false},
		{"typed nil pointer", (*int)(nil), false},
		{"nil", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertValidation(t, ValidateNotNil("workerpool", "task", tt.value), tt.wantError)
		})
	}
}

func TestValidateNotEmpty(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantError bool
	}{
		{"path", "/srv/www", false},
		{"whitespace", " ", false},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertValidation(t, ValidateNotEmpty("server", "root", tt.value), tt.wantError)
		})
	}

	err := ValidateNotEmpty("server", "root", "")
	if verr, ok := err.(*errors.ValidationError); !ok || verr.Hint != "provide a non-empty root" {
		t.Errorf("unexpected hint on %v", err)
	}
}
