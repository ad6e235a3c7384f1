package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies renderer errors for handling and propagation decisions.
type ErrorType string

const (
	// ErrorTypeStartup: the browser could not reach Running at service startup. Fatal.
	ErrorTypeStartup ErrorType = "startup"
	// ErrorTypeQueueTimeout: the caller waited at the conversion gate longer than allowed.
	ErrorTypeQueueTimeout ErrorType = "queue_timeout"
	// ErrorTypeConversion: all retry attempts against the rendering engine failed.
	ErrorTypeConversion ErrorType = "conversion"
	// ErrorTypeStaleGeneration: a conversion channel outlived the browser generation
	// it was opened under. Internal, always retried.
	ErrorTypeStaleGeneration ErrorType = "stale_generation"
	// ErrorTypeProcess: subprocess-level failure (spawn, kill, liveness).
	ErrorTypeProcess ErrorType = "process"
	// ErrorTypeTimeout: a bounded operation exceeded its deadline.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeValidation: invalid input or configuration.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeCancelled: the surrounding request was cancelled.
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeInternal: unexpected internal failure.
	ErrorTypeInternal ErrorType = "internal"
)

// DomainError is a structured error with a type, an underlying cause and
// key/value context for diagnostics.
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

// Is matches DomainErrors by type, so errors.Is works across wrapping.
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext attaches a key/value pair to the error for diagnostics.
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a structured error of the given type.
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewStartupError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeStartup, message, cause)
}

func NewQueueTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeQueueTimeout, message, cause)
}

func NewConversionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConversion, message, cause)
}

func NewStaleGenerationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeStaleGeneration, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

func IsStartupError(err error) bool {
	return isType(err, ErrorTypeStartup)
}

func IsQueueTimeoutError(err error) bool {
	return isType(err, ErrorTypeQueueTimeout)
}

func IsConversionError(err error) bool {
	return isType(err, ErrorTypeConversion)
}

func IsStaleGenerationError(err error) bool {
	return isType(err, ErrorTypeStaleGeneration)
}

func IsProcessError(err error) bool {
	return isType(err, ErrorTypeProcess)
}

func IsTimeoutError(err error) bool {
	return isType(err, ErrorTypeTimeout)
}

func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

func IsCancelledError(err error) bool {
	return isType(err, ErrorTypeCancelled)
}

func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// IsRetryable reports whether the orchestrator's retry loop may recover from
// the error by restarting the browser and trying again. Queue timeouts and
// validation failures are never retried.
func IsRetryable(err error) bool {
	return IsStaleGenerationError(err) || IsTimeoutError(err) || IsProcessError(err) || IsInternalError(err)
}
