package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrExternalService is returned when a model server call fails.
	ErrExternalService = errors.New("external service error")
	// ErrCapacity is returned when a bounded retry budget is exhausted.
	ErrCapacity = errors.New("capacity exhausted")
)

// ValidationError represents a validation error with a field name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// ResourceError reports an input or model artifact that could not be used.
type ResourceError struct {
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource %s: %v", e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// CapacityError is returned when no free archive name was found within the retry cap.
type CapacityError struct {
	Dir      string
	Attempts int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("no free project name in %s after %d attempts", e.Dir, e.Attempts)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacity
}

// WrapError wraps an error with additional context.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
