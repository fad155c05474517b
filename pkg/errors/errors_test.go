package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Creation(t *testing.T) {
	cause := errors.New("underlying error")

	err := NewValidationError("test validation error", cause)

	assert.Equal(t, ErrorTypeValidation, err.Type)
	assert.Equal(t, "test validation error", err.Message)
	assert.Equal(t, cause, err.Cause)
	assert.NotNil(t, err.Context)
}

func TestDomainError_WithContext(t *testing.T) {
	err := NewProcessError("test error", nil)

	err = err.WithContext("entity", "app_pool/P1")
	err = err.WithContext("exit_code", 50)

	assert.Equal(t, "app_pool/P1", err.Context["entity"])
	assert.Equal(t, 50, err.Context["exit_code"])
}

func TestDomainError_ErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		error    *DomainError
		expected string
	}{
		{
			name:     "error without cause",
			error:    NewValidationError("test message", nil),
			expected: "validation: test message",
		},
		{
			name:     "error with cause",
			error:    NewProcessError("test message", errors.New("cause")),
			expected: "process: test message: cause",
		},
		{
			name:     "conflict",
			error:    NewConflictError("operation already active", nil),
			expected: "operation_conflict: operation already active",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.error.Error())
		})
	}
}

func TestDomainError_PermissionRemediation(t *testing.T) {
	err := NewPermissionError("access denied by appcmd", nil)

	assert.Equal(t, RemediationElevate, err.Remediation())
	assert.Empty(t, NewTimeoutError("slow", nil).Remediation())
}

func TestDomainError_WrappedToolErrors(t *testing.T) {
	toolErr := NewToolUnavailableError("appcmd not found", nil)
	wrapped := NewProcessError("query failed", toolErr)
	stdWrapped := fmt.Errorf("cycle: %w", wrapped)

	assert.True(t, IsToolUnavailableError(wrapped))
	assert.True(t, IsToolUnavailableError(stdWrapped))
	assert.False(t, IsTimeoutError(stdWrapped))
	assert.Equal(t, ErrorTypeProcess, TypeOf(stdWrapped))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestDomainError_Is(t *testing.T) {
	err := NewConflictError("busy", nil)

	assert.True(t, errors.Is(err, &DomainError{Type: ErrorTypeConflict}))
	assert.False(t, errors.Is(err, &DomainError{Type: ErrorTypeTimeout}))
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewProcessError("test error", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()

	assert.False(t, collection.HasErrors())
	assert.Nil(t, collection.ToError())

	collection.Add(NewValidationError("error 1", nil))
	collection.Add(NewProcessError("error 2", nil))
	collection.Add(nil)

	assert.True(t, collection.HasErrors())
	assert.Equal(t, 2, len(collection.Errors))

	err := collection.ToError()
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
}

func TestErrorCollection_SingleError(t *testing.T) {
	collection := NewErrorCollection()
	collection.Add(NewValidationError("single error", nil))

	err := collection.ToError()
	require.NotNil(t, err)
	assert.Equal(t, "validation: single error", err.Error())
}

func TestErrorCollection_MatchesCollectedTypes(t *testing.T) {
	collection := NewErrorCollection()
	collection.Add(NewConflictError("scheduler is not running", nil))
	collection.Add(NewTimeoutError("timed out waiting for operations to finish", nil))

	err := collection.ToError()
	require.NotNil(t, err)
	assert.True(t, IsTimeoutError(err))
	assert.True(t, IsConflictError(err))
	assert.False(t, IsValidationError(err))
}

func TestAllErrorTypes(t *testing.T) {
	errorTypes := []struct {
		name        string
		constructor func(string, error) *DomainError
		checker     func(error) bool
		errorType   ErrorType
	}{
		{"validation", NewValidationError, IsValidationError, ErrorTypeValidation},
		{"not_found", NewNotFoundError, IsNotFoundError, ErrorTypeNotFound},
		{"conflict", NewConflictError, IsConflictError, ErrorTypeConflict},
		{"tool_unavailable", NewToolUnavailableError, IsToolUnavailableError, ErrorTypeToolUnavailable},
		{"timeout", NewTimeoutError, IsTimeoutError, ErrorTypeTimeout},
		{"permission", NewPermissionError, IsPermissionError, ErrorTypePermission},
		{"process", NewProcessError, IsProcessError, ErrorTypeProcess},
		{"io", NewIOError, IsIOError, ErrorTypeIO},
		{"network", NewNetworkError, IsNetworkError, ErrorTypeNetwork},
		{"internal", NewInternalError, IsInternalError, ErrorTypeInternal},
		{"cancelled", NewCancelledError, IsCancelledError, ErrorTypeCancelled},
	}

	for _, tt := range errorTypes {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constructor("test message", nil)
			assert.Equal(t, tt.errorType, err.Type)
			assert.True(t, tt.checker(err))
		})
	}
}
