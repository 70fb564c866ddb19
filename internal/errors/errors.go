package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// Configuration errors - missing or invalid configuration
	ErrorTypeConfig ErrorType = iota
	// No credential could be resolved from any source
	ErrorTypeMissingCredential
	// Network errors - the forge host could not be reached
	ErrorTypeTransport
	// Non-2xx response from the forge
	ErrorTypeHTTPStatus
	// Response body is not valid JSON or not the expected shape
	ErrorTypeParse
	// Per-request or whole-run deadline exceeded
	ErrorTypeTimeout
	// FileSystem errors - output or cache I/O failures
	ErrorTypeFileSystem
	// Internal errors - unexpected internal state
	ErrorTypeInternal
)

// Timeout scopes
const (
	ScopeRequest = "request"
	ScopeRun     = "run"
)

// Process exit codes
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfig      = 2
	ExitPartial     = 3
	ExitRunDeadline = 4
)

// Error represents a structured error with context
type Error struct {
	Type       ErrorType
	Message    string
	Cause      error
	StatusCode int
	Context    map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Is checks if this error matches the target error type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// DetailedString returns a detailed error message with context
func (e *Error) DetailedString() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s\n", typeString(e.Type), e.Message))
	if e.StatusCode != 0 {
		sb.WriteString(fmt.Sprintf("Status: %d\n", e.StatusCode))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("Caused by: %v\n", e.Cause))
	}
	if len(e.Context) > 0 {
		sb.WriteString("Context:\n")
		for k, v := range e.Context {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	}

	return sb.String()
}

// String returns the short upper-case name of the error type
func (t ErrorType) String() string {
	return typeString(t)
}

func typeString(t ErrorType) string {
	switch t {
	case ErrorTypeConfig:
		return "CONFIG"
	case ErrorTypeMissingCredential:
		return "MISSING_CREDENTIAL"
	case ErrorTypeTransport:
		return "TRANSPORT"
	case ErrorTypeHTTPStatus:
		return "HTTP_STATUS"
	case ErrorTypeParse:
		return "PARSE"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeFileSystem:
		return "FILESYSTEM"
	case ErrorTypeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// Convenience constructors

// ConfigError creates a configuration error
func ConfigError(message string) *Error {
	return New(ErrorTypeConfig, message)
}

// ConfigErrorf creates a configuration error with formatting
func ConfigErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeConfig, fmt.Sprintf(format, args...))
}

// MissingCredentialError reports that no token was found in any source
func MissingCredentialError(message string) *Error {
	return New(ErrorTypeMissingCredential, message)
}

// TransportError wraps a network-level failure
func TransportError(err error, url string) *Error {
	return Wrap(err, ErrorTypeTransport, "request failed").WithContext("url", url)
}

// HTTPStatusError reports a non-2xx response
func HTTPStatusError(statusCode int, url string, cause error) *Error {
	e := &Error{
		Type:       ErrorTypeHTTPStatus,
		Message:    fmt.Sprintf("HTTP error! status: %d", statusCode),
		Cause:      cause,
		StatusCode: statusCode,
		Context:    make(map[string]interface{}),
	}
	return e.WithContext("url", url)
}

// ParseError wraps a response decoding failure
func ParseError(err error, url string) *Error {
	return Wrap(err, ErrorTypeParse, "malformed response body").WithContext("url", url)
}

// TimeoutError wraps a deadline failure; scope is ScopeRequest or ScopeRun
func TimeoutError(err error, scope string) *Error {
	return Wrap(err, ErrorTypeTimeout, scope+" deadline exceeded").WithContext("scope", scope)
}

// FileSystemError wraps a filesystem error
func FileSystemError(err error, message string) *Error {
	return Wrap(err, ErrorTypeFileSystem, message)
}

// FileSystemErrorf wraps a filesystem error with formatting
func FileSystemErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeFileSystem, fmt.Sprintf(format, args...))
}

// InternalErrorf creates an internal error with formatting
func InternalErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeInternal, fmt.Sprintf(format, args...))
}

// As finds the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetType returns the type of an error
func GetType(err error) ErrorType {
	if e, ok := As(err); ok {
		return e.Type
	}
	return ErrorTypeInternal
}

// IsType reports whether err's chain contains an *Error of the given type
func IsType(err error, errType ErrorType) bool {
	e, ok := As(err)
	return ok && e.Type == errType
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	if e, ok := As(err); ok {
		return e.StatusCode
	}
	return 0
}

// ExitCode maps an error returned by a run to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	e, ok := As(err)
	if !ok {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return ExitRunDeadline
		}
		return ExitFailure
	}

	switch e.Type {
	case ErrorTypeConfig, ErrorTypeMissingCredential:
		return ExitConfig
	case ErrorTypeTimeout:
		if e.Context["scope"] == ScopeRun {
			return ExitRunDeadline
		}
		return ExitFailure
	default:
		return ExitFailure
	}
}
