package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows per-statement and per-table detail
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows everything
	LogLevelDebug LogLevel = "debug"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel  `mapstructure:"level" yaml:"level"`
	Output     io.Writer `mapstructure:"-" yaml:"-"`
	Format     string    `mapstructure:"format" yaml:"format"` // "text" or "json"
	ShowCaller bool      `mapstructure:"show_caller" yaml:"show_caller"`
	LogFile    string    `mapstructure:"file" yaml:"file"`
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	logger.SetOutput(output)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	logger.SetLevel(toLogrusLevel(config.Level))

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}
		logger.SetOutput(io.MultiWriter(output, file))
	}

	level := config.Level
	if level == "" {
		level = LogLevelNormal
	}

	return &Logger{
		logger: logger,
		level:  level,
	}, nil
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelNormal,
		Format: "text",
	})
	return logger
}

// NewNopLogger returns a logger that discards everything. Used by tests.
func NewNopLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelQuiet,
		Output: io.Discard,
	})
	return logger
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// WithContext returns an entry carrying the request ID stored in ctx, if any
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)
	if requestID := GetRequestIDFromContext(ctx); requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	return entry
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// LogDatabaseConnection logs database connection attempts
func (l *Logger) LogDatabaseConnection(host string, database string, success bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "database_connection",
		"host":      host,
		"database":  database,
		"duration":  duration.String(),
		"success":   success,
	}

	if success {
		l.logger.WithFields(fields).Info("Database connection established")
		return
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.logger.WithFields(fields).Error("Database connection failed")
}

// LogSQLExecution logs one executed statement. Successful statements are only
// logged at verbose level and above.
func (l *Logger) LogSQLExecution(sql string, line int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "sql_execution",
		"duration":  duration.String(),
		"sql":       SanitizeSQL(sql),
	}
	if line > 0 {
		fields["line"] = line
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("SQL execution failed")
		return
	}
	l.logger.WithFields(fields).Debug("SQL executed")
}

// LogExport logs completion of a SQL dump
func (l *Logger) LogExport(database string, tables int, rows int64, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "sql_export",
		"database":  database,
		"tables":    tables,
		"rows":      rows,
		"duration":  duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("SQL export failed")
		return
	}
	l.logger.WithFields(fields).Info("SQL export completed")
}

// LogImport logs the outcome of replaying a SQL dump
func (l *Logger) LogImport(executed, skipped int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "sql_import",
		"executed":  executed,
		"skipped":   skipped,
		"duration":  duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("SQL import failed")
		return
	}
	l.logger.WithFields(fields).Info("SQL import completed")
}

// LogSnapshotTable logs capture of a single table. A non-nil err means the table
// was recorded with an inline error.
func (l *Logger) LogSnapshotTable(table string, rows int, err error) {
	fields := logrus.Fields{
		"operation": "snapshot_table",
		"table":     table,
		"rows":      rows,
	}
	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Warn("Table captured with error")
		return
	}
	l.logger.WithFields(fields).Debug("Table captured")
}

// LogRestore logs the outcome of a snapshot restore
func (l *Logger) LogRestore(tables, files, fileErrors int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":   "snapshot_restore",
		"tables":      tables,
		"files":       files,
		"file_errors": fileErrors,
		"duration":    duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Snapshot restore failed")
		return
	}
	l.logger.WithFields(fields).Info("Snapshot restore completed")
}

// LogRetention logs a retention sweep
func (l *Logger) LogRetention(dir string, retentionDays int, deleted []string, err error) {
	fields := logrus.Fields{
		"operation":      "retention_cleanup",
		"dir":            dir,
		"retention_days": retentionDays,
		"deleted":        len(deleted),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Retention cleanup failed")
		return
	}
	l.logger.WithFields(fields).Info("Retention cleanup completed")
}

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// LogOperationStart logs the start of an operation and returns a function to log completion
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(startTime).String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
			return
		}
		logFields["success"] = true
		l.logger.WithFields(logFields).Info("Operation completed")
	}
}

// CreateContextWithRequestID creates a context with a request ID for tracing
func CreateContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestIDFromContext extracts request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

var passwordPattern = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|"[^"]*"|\S+)`)

// SanitizeSQL masks password assignments and truncates statements longer than 200 bytes
func SanitizeSQL(sql string) string {
	sql = passwordPattern.ReplaceAllString(sql, "${1}***")
	if len(sql) > 200 {
		return sql[:200] + "... [truncated]"
	}
	return sql
}
