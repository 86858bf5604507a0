package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a unique error code for categorizing errors
type ErrorCode string

const (
	// Connection errors (1xxx)
	ErrCodeConnectionFailed     ErrorCode = "LH1001"
	ErrCodeConnectionTimeout    ErrorCode = "LH1002"
	ErrCodeAuthenticationFailed ErrorCode = "LH1003"
	ErrCodeSourceUnavailable    ErrorCode = "LH1004"
	ErrCodeWarehouseUnavailable ErrorCode = "LH1005"

	// Configuration errors (2xxx)
	ErrCodeConfigNotFound    ErrorCode = "LH2001"
	ErrCodeConfigInvalid     ErrorCode = "LH2002"
	ErrCodeConfigMissing     ErrorCode = "LH2003"
	ErrCodeConfigPermission  ErrorCode = "LH2004"
	ErrCodeUnsupportedDriver ErrorCode = "LH2005"

	// SQL errors (4xxx)
	ErrCodeSQLSyntax         ErrorCode = "LH4001"
	ErrCodeSQLPermission     ErrorCode = "LH4002"
	ErrCodeSQLTimeout        ErrorCode = "LH4003"
	ErrCodeSQLTransaction    ErrorCode = "LH4004"
	ErrCodeSQLObjectNotFound ErrorCode = "LH4005"
	ErrCodeSQLExecution      ErrorCode = "LH4006"
	ErrCodeStagingFailed     ErrorCode = "LH4007"
	ErrCodeSourceQuery       ErrorCode = "LH4008"
	ErrCodeWarehouseExec     ErrorCode = "LH4009"
	ErrCodeSchemaMismatch    ErrorCode = "LH4010"

	// File system errors (5xxx)
	ErrCodeFileNotFound   ErrorCode = "LH5001"
	ErrCodeFilePermission ErrorCode = "LH5002"
	ErrCodeFileCorrupted  ErrorCode = "LH5003"
	ErrCodeFileOperation  ErrorCode = "LH5005"

	// Validation errors (6xxx)
	ErrCodeValidationFailed ErrorCode = "LH6001"
	ErrCodeInvalidInput     ErrorCode = "LH6002"
	ErrCodeRequiredField    ErrorCode = "LH6003"

	// Security errors (7xxx)
	ErrCodeEncryptionFailed  ErrorCode = "LH7002"
	ErrCodeCredentialMissing ErrorCode = "LH7003"

	// Pipeline errors (8xxx)
	ErrCodeRollbackFailed       ErrorCode = "LH8001"
	ErrCodeLockHeld             ErrorCode = "LH8002"
	ErrCodeQualityGateFailed    ErrorCode = "LH8003"
	ErrCodeQuarantineFailed     ErrorCode = "LH8004"
	ErrCodeNotFound             ErrorCode = "LH8005"
	ErrCodeInvalidState         ErrorCode = "LH8006"
	ErrCodeIntegrityCheckFailed ErrorCode = "LH8007"
	ErrCodeArchiveFailed        ErrorCode = "LH8008"

	// System errors (9xxx)
	ErrCodeInternal           ErrorCode = "LH9001"
	ErrCodeTimeout            ErrorCode = "LH9002"
	ErrCodeServiceUnavailable ErrorCode = "LH9004"
	ErrCodeResultParsing      ErrorCode = "LH9005"
	ErrCodeMaxRetriesExceeded ErrorCode = "LH9007"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "CRITICAL" // System failure, requires immediate attention
	SeverityError    ErrorSeverity = "ERROR"    // Operation failed, but system continues
	SeverityWarning  ErrorSeverity = "WARNING"  // Operation succeeded with issues
	SeverityInfo     ErrorSeverity = "INFO"     // Informational, not an error
)

// AppError represents a structured application error with context
type AppError struct {
	Code        ErrorCode
	Message     string
	Severity    ErrorSeverity
	Context     map[string]interface{}
	Cause       error
	Stack       string
	Timestamp   time.Time
	Recoverable bool
	Suggestions []string
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\nCaused by: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return b.String()
}

// Unwrap returns the cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		Severity:    SeverityError,
		Context:     make(map[string]interface{}),
		Stack:       captureStack(),
		Timestamp:   time.Now(),
		Recoverable: false,
	}
}

// Wrap wraps an existing error with AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	appErr := New(code, message)
	appErr.Cause = err

	// Inherit context from a wrapped AppError
	var ae *AppError
	if errors.As(err, &ae) {
		for k, v := range ae.Context {
			appErr.Context[k] = v
		}
	}

	return appErr
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity sets the error severity
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	return e
}

// WithSuggestions adds recovery suggestions
func (e *AppError) WithSuggestions(suggestions ...string) *AppError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// AsRecoverable marks the error as recoverable
func (e *AppError) AsRecoverable() *AppError {
	e.Recoverable = true
	return e
}

// captureStack captures the current stack trace
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			b.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return b.String()
}

// Common error constructors

// ConnectionError creates a connection-related error for the named endpoint
// ("source" or "warehouse").
func ConnectionError(endpoint string, message string, cause error) *AppError {
	code := ErrCodeConnectionFailed
	switch endpoint {
	case "source":
		code = ErrCodeSourceUnavailable
	case "warehouse":
		code = ErrCodeWarehouseUnavailable
	}
	return Wrap(cause, code, message).
		WithContext("endpoint", endpoint).
		WithSeverity(SeverityError).
		WithSuggestions(
			"Check your network connection",
			fmt.Sprintf("Verify the %s connection settings in labhub.yaml", endpoint),
			"Run 'labhub config show' to inspect the resolved configuration",
		)
}

// ConfigError creates a configuration-related error
func ConfigError(message string, field string) *AppError {
	return New(ErrCodeConfigInvalid, message).
		WithContext("field", field).
		WithSuggestions(
			fmt.Sprintf("Check the '%s' configuration value", field),
			"Run 'labhub config init' to reconfigure",
		)
}

// SQLError creates an SQL execution error
func SQLError(message string, query string, cause error) *AppError {
	err := Wrap(cause, ErrCodeSQLExecution, message).
		WithContext("query", truncateString(query, 200))

	lower := strings.ToLower(message + " " + fmt.Sprint(cause))
	switch {
	case strings.Contains(lower, "permission") || strings.Contains(lower, "access denied"):
		err.Code = ErrCodeSQLPermission
		_ = err.WithSuggestions(
			"Check the database user's privileges",
			"Verify the role can read the source schemas and write the warehouse schema",
		)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		err.Code = ErrCodeSQLTimeout
		_ = err.WithSuggestions(
			"Increase the connection timeout setting",
			"Check load on the database server",
		)
	case strings.Contains(lower, "syntax"):
		err.Code = ErrCodeSQLSyntax
	}

	return err
}

// SourceQueryError wraps a failed extraction query against the operational source
func SourceQueryError(entity string, query string, cause error) *AppError {
	return SQLError(fmt.Sprintf("failed to extract %s from source", entity), query, cause).
		withCodeIfGeneric(ErrCodeSourceQuery).
		WithContext("entity", entity)
}

// WarehouseError wraps a failed statement against the warehouse
func WarehouseError(operation string, query string, cause error) *AppError {
	return SQLError(fmt.Sprintf("warehouse %s failed", operation), query, cause).
		withCodeIfGeneric(ErrCodeWarehouseExec).
		WithContext("operation", operation)
}

func (e *AppError) withCodeIfGeneric(code ErrorCode) *AppError {
	if e.Code == ErrCodeSQLExecution {
		e.Code = code
	}
	return e
}

// ValidationError creates a validation error
func ValidationError(field string, value interface{}, reason string) *AppError {
	return New(ErrCodeValidationFailed, fmt.Sprintf("Validation failed for %s: %s", field, reason)).
		WithContext("field", field).
		WithContext("value", value).
		WithSeverity(SeverityWarning).
		AsRecoverable()
}

// IsRecoverable checks if an error is recoverable
func IsRecoverable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Recoverable
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether any AppError in err's chain carries code
func HasCode(err error, code ErrorCode) bool {
	return errors.Is(err, &AppError{Code: code})
}

// truncateString truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
