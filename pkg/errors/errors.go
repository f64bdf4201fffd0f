// Package errors provides a structured error system for precache with error
// codes, categories, and context.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for precache operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Origin errors
	ErrCodeOriginFetch       ErrorCode = "ORIGIN_FETCH"
	ErrCodeOriginNotFound    ErrorCode = "ORIGIN_NOT_FOUND"
	ErrCodeOriginUnavailable ErrorCode = "ORIGIN_UNAVAILABLE"
	ErrCodeOriginTimeout     ErrorCode = "ORIGIN_TIMEOUT"

	// Persistence errors
	ErrCodeSnapshotNotFound ErrorCode = "SNAPSHOT_NOT_FOUND"
	ErrCodeSnapshotIO       ErrorCode = "SNAPSHOT_IO"
	ErrCodeSnapshotCorrupt  ErrorCode = "SNAPSHOT_CORRUPT"

	// State management errors
	ErrCodeAlreadyStarted   ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized   ErrorCode = "NOT_INITIALIZED"
	ErrCodeComponentStopped ErrorCode = "COMPONENT_STOPPED"

	// Server errors
	ErrCodeServerError      ErrorCode = "SERVER_ERROR"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Internal system errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
	ErrCodeUnknownError   ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryOrigin        ErrorCategory = "origin"
	CategoryPersistence   ErrorCategory = "persistence"
	CategoryState         ErrorCategory = "state"
	CategoryServer        ErrorCategory = "server"
	CategoryInternal      ErrorCategory = "internal"
)

// PrecacheError represents a structured error with context and metadata.
type PrecacheError struct {
	// Core error information
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status,omitempty"`

	// Debug information
	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *PrecacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *PrecacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *PrecacheError) Is(target error) bool {
	if perr, ok := target.(*PrecacheError); ok {
		return e.Code == perr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *PrecacheError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("PrecacheError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *PrecacheError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new precache error with default values.
func NewError(code ErrorCode, message string) *PrecacheError {
	return &PrecacheError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// NewErrorf creates a new precache error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...interface{}) *PrecacheError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "MISSING_CONFIG") ||
		strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "ORIGIN_"):
		return CategoryOrigin
	case strings.HasPrefix(codeStr, "SNAPSHOT_"):
		return CategoryPersistence
	case strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "NOT_INITIALIZED") ||
		strings.HasPrefix(codeStr, "COMPONENT_"):
		return CategoryState
	case strings.HasPrefix(codeStr, "SERVER_") || strings.HasPrefix(codeStr, "VALIDATION_"):
		return CategoryServer
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeOriginFetch:       true,
		ErrCodeOriginUnavailable: true,
		ErrCodeOriginTimeout:     true,
		ErrCodeInternalError:     true,
	}
	return retryableCodes[code]
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidConfig:     400, // Bad Request
		ErrCodeConfigValidation:  400,
		ErrCodeValidationFailed:  400,
		ErrCodeOriginNotFound:    404, // Not Found
		ErrCodeSnapshotNotFound:  404,
		ErrCodeAlreadyStarted:    409, // Conflict
		ErrCodeOriginUnavailable: 503, // Service Unavailable
		ErrCodeComponentStopped:  503,
		ErrCodeOriginTimeout:     504, // Gateway Timeout
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500 // Default to Internal Server Error
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:]) // +2 to skip this function and the caller
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") { // Skip frames from this file
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *PrecacheError) WithContext(key, value string) *PrecacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *PrecacheError) WithComponent(component string) *PrecacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *PrecacheError) WithOperation(operation string) *PrecacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *PrecacheError) WithCause(cause error) *PrecacheError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *PrecacheError) WithStack() *PrecacheError {
	e.Stack = CaptureStack(2)
	return e
}

// GetCode extracts the error code from any error, walking the wrap chain.
// Returns ErrCodeUnknownError for errors that are not precache errors.
func GetCode(err error) ErrorCode {
	var perr *PrecacheError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ErrCodeUnknownError
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	var perr *PrecacheError
	if errors.As(err, &perr) {
		return perr.Code == code
	}
	return false
}

// IsNotFound reports whether err represents a missing page or snapshot.
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeOriginNotFound) || IsCode(err, ErrCodeSnapshotNotFound)
}

// IsRetryable reports whether the operation that produced err may be retried.
func IsRetryable(err error) bool {
	var perr *PrecacheError
	if errors.As(err, &perr) {
		return perr.Retryable
	}
	return false
}
