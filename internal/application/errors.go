package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/daily-engagement/internal/lifecycle"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrInvalidTransition is returned when a session action is not allowed from its current status.
	ErrInvalidTransition = lifecycle.ErrInvalidTransition
	// ErrSessionClosed is returned when attendance is recorded against a cancelled session.
	ErrSessionClosed = fmt.Errorf("%w: session is cancelled", lifecycle.ErrInvalidTransition)
	// ErrStaleLeave is returned when a leave has no matching open join.
	ErrStaleLeave = errors.New("application: leave without matching join")
	// ErrConfigurationInvalid is matched by every *ValidationError.
	ErrConfigurationInvalid = errors.New("application: configuration invalid")
	// ErrConflict is returned when concurrent writers exhausted the retry budget.
	ErrConflict = errors.New("application: concurrent update conflict")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v.FieldErrors[field])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrConfigurationInvalid) match validation failures.
func (v *ValidationError) Is(target error) bool {
	return target == ErrConfigurationInvalid
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}
