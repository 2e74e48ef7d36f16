package application

import (
	"errors"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	empty := &ValidationError{}
	if got := empty.Error(); got != "validation failed" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"timezone": "unknown", "days": "empty"}}
	if got := withFields.Error(); got != "validation failed: days: empty; timezone: unknown" {
		t.Fatalf("expected sorted field listing, got %q", got)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	if err := (&ValidationError{}).HasErrors(); err {
		t.Fatalf("expected HasErrors to report false for empty error")
	}

	if err := (&ValidationError{FieldErrors: map[string]string{"field": "bad"}}).HasErrors(); !err {
		t.Fatalf("expected HasErrors to report true when fields are present")
	}
}

func TestValidationError_AddAndMerge(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	base.add("first", "value")
	if got := base.FieldErrors["first"]; got != "value" {
		t.Fatalf("expected add to populate map, got %q", got)
	}

	other := &ValidationError{FieldErrors: map[string]string{"second": "another"}}
	base.merge(other)
	if got := base.FieldErrors["second"]; got != "another" {
		t.Fatalf("expected merge to copy field, got %q", got)
	}

	base.merge(nil)
	if len(base.FieldErrors) != 2 {
		t.Fatalf("expected merge with nil to leave fields unchanged")
	}
}

func TestValidationError_IsConfigurationInvalid(t *testing.T) {
	t.Parallel()

	vErr := &ValidationError{}
	vErr.add("timezone", "unknown")
	wrapped := errors.Join(errors.New("configure"), vErr)
	if !errors.Is(wrapped, ErrConfigurationInvalid) {
		t.Fatalf("expected validation error to match ErrConfigurationInvalid")
	}
}

func TestErrSessionClosed_IsInvalidTransition(t *testing.T) {
	t.Parallel()

	if !errors.Is(ErrSessionClosed, ErrInvalidTransition) {
		t.Fatalf("expected ErrSessionClosed to wrap ErrInvalidTransition")
	}
	if errors.Is(ErrInvalidTransition, ErrSessionClosed) {
		t.Fatalf("ErrInvalidTransition must not match ErrSessionClosed")
	}
}
