// Package errors provides shared error types for tool discovery and upstream calls.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// NotFoundError indicates the upstream API returned no matching entity.
type NotFoundError struct {
	Resource   string // "work", "juan", "catalog entry"
	Identifier string // work ID, line head, or search query
}

func (e *NotFoundError) Error() string {
	if e.Identifier != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.Identifier)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resource, identifier string) *NotFoundError {
	return &NotFoundError{
		Resource:   resource,
		Identifier: identifier,
	}
}

// ValidationError indicates invalid input parameters.
type ValidationError struct {
	Field   string // field name that failed validation
	Value   string // the invalid value (may be empty)
	Message string // human-readable error message
}

func (e *ValidationError) Error() string {
	if e.Field != "" && e.Value != "" {
		return fmt.Sprintf("validation failed for %s=%q: %s", e.Field, e.Value, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// UpstreamError indicates the remote API answered with a non-2xx status.
type UpstreamError struct {
	StatusCode int
	URL        string
	Body       string // truncated response body
}

func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// TimeoutError indicates a remote call exceeded its deadline.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("request to %s timed out after %s", e.URL, e.Timeout)
	}
	return fmt.Sprintf("request to %s timed out", e.URL)
}

// LoadError indicates a tool unit could not be loaded during discovery.
type LoadError struct {
	Unit string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Unit, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// DuplicateError indicates two units declared the same tool name.
type DuplicateError struct {
	Tool     string
	Unit     string // unit that declared the duplicate
	Existing string // unit that registered the name first
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate tool %q in %s (already registered by %s)", e.Tool, e.Unit, e.Existing)
}

// IsNotFound returns true if err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return stderrors.As(err, &target)
}

// IsValidation returns true if err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return stderrors.As(err, &target)
}

// IsUpstream returns true if err is or wraps an UpstreamError.
func IsUpstream(err error) bool {
	var target *UpstreamError
	return stderrors.As(err, &target)
}

// IsTimeout returns true if err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return stderrors.As(err, &target)
}

// IsDuplicate returns true if err is or wraps a DuplicateError.
func IsDuplicate(err error) bool {
	var target *DuplicateError
	return stderrors.As(err, &target)
}
