// Package errors provides structured error handling for portscope.
// It defines error codes and coded error types, and helpers to create and
// inspect them with context attached.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// Session-level scan errors. Each one aborts a scan before any probe
	// is scheduled.
	CodeInvalidPortSpec    ErrorCode = "INVALID_PORT_SPEC"
	CodePermissionDenied   ErrorCode = "PERMISSION_DENIED"
	CodeTargetUnresolvable ErrorCode = "TARGET_UNRESOLVABLE"
	CodeSocket             ErrorCode = "SOCKET_ERROR"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"

	// File system errors.
	CodeFileNotFound   ErrorCode = "FILE_NOT_FOUND"
	CodeFilePermission ErrorCode = "FILE_PERMISSION"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Target != "" {
		msg = fmt.Sprintf("%s (target: %s)", msg, e.Target)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithOperation records the operation that failed.
func (e *ScanError) WithOperation(op string) *ScanError {
	e.Operation = op
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	e := NewScanError(code, message)
	e.Target = target
	return e
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	e := NewScanError(code, message)
	e.Cause = err
	return e
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	e := WrapScanError(code, message, err)
	e.Target = target
	return e
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WithQuery adds the SQL query that caused the error.
func (e *DatabaseError) WithQuery(query string) *DatabaseError {
	e.Query = query
	return e
}

// WithOperation records the repository operation that failed.
func (e *DatabaseError) WithOperation(op string) *DatabaseError {
	e.Operation = op
	return e
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode reports whether any error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// GetCode extracts the error code from the first coded error in err's chain.
func GetCode(err error) ErrorCode {
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	var dbErr *DatabaseError
	if stderrors.As(err, &dbErr) {
		return dbErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// IsFatal determines if an error indicates a fatal condition that should
// stop a whole scan session rather than a single probe.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeInvalidPortSpec, CodePermissionDenied, CodeTargetUnresolvable,
		CodeSocket, CodeConfiguration, CodeDatabaseMigration:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidPortSpec creates an error for a malformed port specification.
func ErrInvalidPortSpec(spec, reason string) *ScanError {
	return NewScanError(CodeInvalidPortSpec, reason).WithContext("port_spec", spec)
}

// ErrPermissionDenied creates an error for a raw-socket technique requested
// without the capability to open raw sockets.
func ErrPermissionDenied(technique string) *ScanError {
	return NewScanError(CodePermissionDenied,
		fmt.Sprintf("%s scan requires raw socket privileges", technique)).
		WithContext("technique", technique)
}

// ErrTargetUnresolvable creates an error for a target that cannot be resolved.
func ErrTargetUnresolvable(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeTargetUnresolvable, "Unable to resolve target", target, err)
}

// ErrSocket creates an error for an OS-level failure opening a scan socket.
func ErrSocket(target, operation string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeSocket, "Failed to open scan socket", target, err).
		WithOperation(operation)
}

// ErrNotFound creates an error for a missing resource.
func ErrNotFound(kind, id string) *ScanError {
	return NewScanError(CodeNotFound, fmt.Sprintf("%s %s not found", kind, id))
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrDatabaseQuery creates an error for database query failures.
func ErrDatabaseQuery(query string, err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseQuery, "Database query failed", err).WithQuery(query)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
