package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies engine errors so callers can react without string matching
type ErrorType string

const (
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConflict        ErrorType = "operation_conflict"
	ErrorTypeToolUnavailable ErrorType = "tool_unavailable"
	ErrorTypeTimeout         ErrorType = "operation_timeout"
	ErrorTypePermission      ErrorType = "permission_denied"
	ErrorTypeProcess         ErrorType = "process"
	ErrorTypeIO              ErrorType = "io"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeInternal        ErrorType = "internal"
	ErrorTypeCancelled       ErrorType = "cancelled"
	ErrorTypeRateLimited     ErrorType = "rate_limited"
)

// RemediationElevate is attached to permission errors raised by the control tool
const RemediationElevate = "run iiswatch with elevated (administrator) privileges"

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomainError of the same type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Remediation returns the operator guidance attached to the error, if any
func (e *DomainError) Remediation() string {
	if v, ok := e.Context["remediation"].(string); ok {
		return v
	}
	return ""
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

// NewConflictError is returned when an entity already has an active operation
func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

// NewToolUnavailableError means the administration tool cannot be found or launched.
// It invalidates all app pool monitoring until the host is fixed.
func NewToolUnavailableError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeToolUnavailable, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause).WithContext("remediation", RemediationElevate)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

func NewRateLimitedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeRateLimited, message, cause)
}

// TypeOf returns the error type of the outermost DomainError in the chain, or "" if none
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

// hasType walks the whole chain, so wrapped tool errors are still recognized
func hasType(err error, errorType ErrorType) bool {
	for err != nil {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) {
			return false
		}
		if domainErr.Type == errorType {
			return true
		}
		err = domainErr.Cause
	}
	return false
}

func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

func IsToolUnavailableError(err error) bool {
	return hasType(err, ErrorTypeToolUnavailable)
}

func IsTimeoutError(err error) bool {
	return hasType(err, ErrorTypeTimeout)
}

func IsPermissionError(err error) bool {
	return hasType(err, ErrorTypePermission)
}

func IsProcessError(err error) bool {
	return isType(err, ErrorTypeProcess)
}

func IsIOError(err error) bool {
	return isType(err, ErrorTypeIO)
}

func IsNetworkError(err error) bool {
	return isType(err, ErrorTypeNetwork)
}

func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

func IsRateLimitedError(err error) bool {
	return isType(err, ErrorTypeRateLimited)
}

func IsCancelledError(err error) bool {
	return isType(err, ErrorTypeCancelled)
}

// ErrorCollection aggregates errors from bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

// Unwrap exposes every collected error to errors.Is and errors.As
func (e *ErrorCollection) Unwrap() []error {
	return e.Errors
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
