package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConnection represents an unreachable target store
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeFormat represents a malformed manifest or upload
	ErrorTypeFormat ErrorType = "format"
	// ErrorTypeValidation represents rejected input (oversized upload, wrong method, busy lock)
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeStatement represents a failed SQL statement
	ErrorTypeStatement ErrorType = "statement"
	// ErrorTypeIO represents file read/write failures
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents cancellation
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	e := NewAppError(errorType, message, cause)
	e.Recoverable = true
	return e
}

// NewConnectionError reports that the target store could not be reached
func NewConnectionError(message string, cause error) *AppError {
	return NewRecoverableError(ErrorTypeConnection, message, cause)
}

// NewFormatError reports a manifest or upload that cannot be interpreted
func NewFormatError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeFormat, message, cause)
}

// NewValidationError reports input rejected before any work was done
func NewValidationError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeValidation, message, cause)
}

// NewIOError reports a file system failure
func NewIOError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeIO, message, cause)
}

// PreviewLength bounds the statement text carried by a StatementError.
const PreviewLength = 200

// StatementError describes the first SQL statement that failed during a replay.
type StatementError struct {
	// Line is the 1-based line where the statement began.
	Line      int
	Preview   string
	Statement string
	Cause     error
}

// NewStatementError builds a StatementError with a bounded preview of stmt.
func NewStatementError(line int, stmt string, cause error) *StatementError {
	return &StatementError{
		Line:      line,
		Preview:   Preview(stmt),
		Statement: stmt,
		Cause:     cause,
	}
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("%s: statement starting at line %d failed: %v", ErrorTypeStatement, e.Line, e.Cause)
}

func (e *StatementError) Unwrap() error {
	return e.Cause
}

// Preview returns at most PreviewLength bytes of stmt, never splitting a UTF-8 sequence.
func Preview(stmt string) string {
	if len(stmt) <= PreviewLength {
		return stmt
	}
	cut := PreviewLength
	for cut > 0 && !isRuneStart(stmt[cut]) {
		cut--
	}
	return stmt[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// RestoreError is returned when a relational restore or import fails. Inconsistent is set
// once DDL has been executed, because MySQL commits DDL implicitly and rollback cannot undo it.
type RestoreError struct {
	Phase        string
	Inconsistent bool
	Cause        error
}

func (e *RestoreError) Error() string {
	if e.Inconsistent {
		return fmt.Sprintf("restore failed during %s, database state may be inconsistent: %v", e.Phase, e.Cause)
	}
	return fmt.Sprintf("restore failed during %s: %v", e.Phase, e.Cause)
}

func (e *RestoreError) Unwrap() error {
	return e.Cause
}

// IsInconsistent reports whether err signals a partially applied restore.
func IsInconsistent(err error) bool {
	var rErr *RestoreError
	return errors.As(err, &rErr) && rErr.Inconsistent
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var stmtErr *StatementError
	if errors.As(err, &stmtErr) {
		return NewAppError(ErrorTypeStatement, "SQL statement failed", err).
			WithContext("line", stmtErr.Line)
	}

	if mysqlErr := ec.classifyMySQLError(err); mysqlErr != nil {
		return mysqlErr
	}
	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}
	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}
	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1045: // Access denied
			return NewAppError(ErrorTypeConnection,
				"Database access denied - check username and password", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1049: // Unknown database
			return NewAppError(ErrorTypeConnection,
				"Database does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2003:
			return NewConnectionError(
				"Cannot connect to MySQL server - server may be down or unreachable", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2006:
			return NewConnectionError(
				"MySQL server connection lost", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		default:
			return NewAppError(ErrorTypeStatement,
				fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		}
	}

	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return NewConnectionError("Database connection is closed", err)
	}
	if errors.Is(err, sql.ErrTxDone) {
		return NewAppError(ErrorTypeStatement, "Transaction has already been committed or rolled back", err)
	}

	return nil
}

func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return NewRecoverableError(ErrorTypeTimeout, "Network operation timed out", err)
		}
		return NewConnectionError("Failed to establish network connection", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "Network operation timed out", err)
	}

	return nil
}

func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewAppError(ErrorTypeTimeout, "Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}
	return nil
}

func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewIOError(fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES:
			return NewIOError(fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewIOError("No space left on device", err)
		}
		return NewIOError(fmt.Sprintf("File system error: %s", pathErr.Path), err)
	}
	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler retries operations that fail with recoverable errors
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
	}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry executes operation until it succeeds, fails permanently or attempts run out.
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		appErr := rh.classifier.ClassifyError(err)
		if !appErr.IsRecoverable() {
			return appErr
		}

		if attempt == rh.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err())
		case <-time.After(rh.calculateDelay(attempt)):
		}
	}

	return rh.classifier.ClassifyError(lastErr).
		WithContext("attempts", rh.config.MaxAttempts)
}

func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)
	if delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}
	return delay
}

// GetErrorType returns the taxonomy type of err
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	var stmtErr *StatementError
	if errors.As(err, &stmtErr) {
		return ErrorTypeStatement
	}
	return ErrorTypeUnknown
}

// WrapError wraps an existing error with a message, classifying it if needed
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return NewAppError(appErr.Type, message, err)
	}

	classified := NewErrorClassifier().ClassifyError(err)
	classified.Message = message
	return classified
}
