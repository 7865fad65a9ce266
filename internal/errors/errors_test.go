package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *NotFoundError
		expected string
	}{
		{
			name:     "with identifier",
			err:      &NotFoundError{Resource: "work", Identifier: "T0001"},
			expected: "work not found: T0001",
		},
		{
			name:     "without identifier",
			err:      &NotFoundError{Resource: "catalog entry"},
			expected: "catalog entry not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("NotFoundError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("work", "T0251")

	if err.Resource != "work" {
		t.Errorf("Resource = %q, want %q", err.Resource, "work")
	}
	if err.Identifier != "T0251" {
		t.Errorf("Identifier = %q, want %q", err.Identifier, "T0251")
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ValidationError
		expected string
	}{
		{
			name:     "with field and value",
			err:      &ValidationError{Field: "juan", Value: "abc", Message: "must be an integer"},
			expected: "validation failed for juan=\"abc\": must be an integer",
		},
		{
			name:     "with field only",
			err:      &ValidationError{Field: "q", Message: "is required"},
			expected: "validation failed for q: is required",
		},
		{
			name:     "message only",
			err:      &ValidationError{Message: "invalid input"},
			expected: "validation failed: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestUpstreamError_Error(t *testing.T) {
	err := &UpstreamError{StatusCode: 503, URL: "https://api.example/search", Body: "busy"}
	if got, want := err.Error(), "HTTP 503 from https://api.example/search: busy"; got != want {
		t.Errorf("UpstreamError.Error() = %q, want %q", got, want)
	}

	err.Body = ""
	if got, want := err.Error(), "HTTP 503 from https://api.example/search"; got != want {
		t.Errorf("UpstreamError.Error() = %q, want %q", got, want)
	}
}

func TestTimeoutError_Error(t *testing.T) {
	err := &TimeoutError{URL: "https://api.example/juans", Timeout: 30 * time.Second}
	if got, want := err.Error(), "request to https://api.example/juans timed out after 30s"; got != want {
		t.Errorf("TimeoutError.Error() = %q, want %q", got, want)
	}
}

func TestLoadError_Unwrap(t *testing.T) {
	cause := errors.New("yaml: line 3: mapping values are not allowed")
	err := &LoadError{Unit: "tools/broken.yaml", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("LoadError should unwrap to its cause")
	}
	if got, want := err.Error(), "load tools/broken.yaml: yaml: line 3: mapping values are not allowed"; got != want {
		t.Errorf("LoadError.Error() = %q, want %q", got, want)
	}
}

func TestDuplicateError_Error(t *testing.T) {
	err := &DuplicateError{Tool: "dup", Unit: "tools/b.yaml", Existing: "tools/a.yaml"}
	want := `duplicate tool "dup" in tools/b.yaml (already registered by tools/a.yaml)`
	if got := err.Error(); got != want {
		t.Errorf("DuplicateError.Error() = %q, want %q", got, want)
	}
}

func TestPredicates(t *testing.T) {
	notFoundErr := &NotFoundError{Resource: "work", Identifier: "X"}
	validationErr := &ValidationError{Message: "test"}
	upstreamErr := &UpstreamError{StatusCode: 500}
	timeoutErr := &TimeoutError{URL: "u"}
	duplicateErr := &DuplicateError{Tool: "t"}
	plainErr := errors.New("plain error")

	tests := []struct {
		name  string
		check func(error) bool
		match error
	}{
		{"IsNotFound", IsNotFound, notFoundErr},
		{"IsValidation", IsValidation, validationErr},
		{"IsUpstream", IsUpstream, upstreamErr},
		{"IsTimeout", IsTimeout, timeoutErr},
		{"IsDuplicate", IsDuplicate, duplicateErr},
	}

	all := []error{notFoundErr, validationErr, upstreamErr, timeoutErr, duplicateErr, plainErr}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, err := range all {
				want := err == tt.match
				if got := tt.check(err); got != want {
					t.Errorf("%s(%T) = %v, want %v", tt.name, err, got, want)
				}
			}
			if !tt.check(fmt.Errorf("wrapped: %w", tt.match)) {
				t.Errorf("%s should match a wrapped error", tt.name)
			}
			if tt.check(nil) {
				t.Errorf("%s should return false for nil", tt.name)
			}
		})
	}
}
