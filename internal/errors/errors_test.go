package errors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
)

func TestAppError(t *testing.T) {
	cause := errors.New("underlying error")
	appErr := NewAppError(ErrorTypeFormat, "manifest is missing tables", cause)

	if appErr.Type != ErrorTypeFormat {
		t.Errorf("Expected type %v, got %v", ErrorTypeFormat, appErr.Type)
	}

	if appErr.IsRecoverable() {
		t.Error("Expected non-recoverable error")
	}

	expectedError := "format: manifest is missing tables (caused by: underlying error)"
	if appErr.Error() != expectedError {
		t.Errorf("Expected error string %v, got %v", expectedError, appErr.Error())
	}

	if !errors.Is(appErr, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
}

func TestAppErrorWithContext(t *testing.T) {
	appErr := NewIOError("write failed", nil)
	appErr.WithContext("path", "a/b.txt").WithContext("size", 12)

	if appErr.Context["path"] != "a/b.txt" {
		t.Errorf("Expected context path=a/b.txt, got %v", appErr.Context["path"])
	}
	if appErr.Context["size"] != 12 {
		t.Errorf("Expected context size=12, got %v", appErr.Context["size"])
	}
}

func TestConnectionErrorIsRecoverable(t *testing.T) {
	if !NewConnectionError("down", nil).IsRecoverable() {
		t.Error("Expected connection errors to be recoverable")
	}
	if NewValidationError("too big", nil).IsRecoverable() {
		t.Error("Expected validation errors to be permanent")
	}
}

func TestStatementError(t *testing.T) {
	stmt := "INSERT INTO t VALUES (" + strings.Repeat("1,", 300) + "1)"
	cause := errors.New("syntax error")
	err := NewStatementError(42, stmt, cause)

	if err.Line != 42 {
		t.Errorf("Expected line 42, got %d", err.Line)
	}
	if len(err.Preview) != PreviewLength+3 {
		t.Errorf("Expected preview of %d bytes, got %d", PreviewLength+3, len(err.Preview))
	}
	if !strings.HasSuffix(err.Preview, "...") {
		t.Errorf("Expected truncated preview to end with ellipsis, got %q", err.Preview)
	}
	if err.Statement != stmt {
		t.Error("Expected full statement to be retained")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
	if GetErrorType(fmt.Errorf("wrapped: %w", err)) != ErrorTypeStatement {
		t.Error("Expected wrapped StatementError to classify as statement")
	}
}

func TestPreviewShortStatement(t *testing.T) {
	if got := Preview("SELECT 1"); got != "SELECT 1" {
		t.Errorf("Expected short statement unchanged, got %q", got)
	}
}

func TestPreviewDoesNotSplitRunes(t *testing.T) {
	stmt := strings.Repeat("a", PreviewLength-1) + "ü" + "tail"
	got := Preview(stmt)
	if got != strings.Repeat("a", PreviewLength-1)+"..." {
		t.Errorf("Expected cut before multi-byte rune, got %q", got)
	}
}

func TestRestoreError(t *testing.T) {
	cause := errors.New("table exists")
	partial := &RestoreError{Phase: "create", Inconsistent: true, Cause: cause}
	clean := &RestoreError{Phase: "begin", Cause: cause}

	if !IsInconsistent(fmt.Errorf("outer: %w", partial)) {
		t.Error("Expected wrapped inconsistent error to be detected")
	}
	if IsInconsistent(clean) {
		t.Error("Expected clean failure not to be inconsistent")
	}
	if !strings.Contains(partial.Error(), "may be inconsistent") {
		t.Errorf("Expected inconsistency signal in message, got %q", partial.Error())
	}
}

func TestClassifyMySQLErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name        string
		err         error
		wantType    ErrorType
		recoverable bool
	}{
		{"access denied", &mysql.MySQLError{Number: 1045, Message: "denied"}, ErrorTypeConnection, false},
		{"unknown database", &mysql.MySQLError{Number: 1049, Message: "no db"}, ErrorTypeConnection, false},
		{"server down", &mysql.MySQLError{Number: 2003, Message: "down"}, ErrorTypeConnection, true},
		{"gone away", &mysql.MySQLError{Number: 2006, Message: "gone"}, ErrorTypeConnection, true},
		{"syntax", &mysql.MySQLError{Number: 1064, Message: "syntax"}, ErrorTypeStatement, false},
		{"invalid conn", mysql.ErrInvalidConn, ErrorTypeConnection, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifier.ClassifyError(tt.err)
			if got.Type != tt.wantType {
				t.Errorf("Expected type %v, got %v", tt.wantType, got.Type)
			}
			if got.IsRecoverable() != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, got.IsRecoverable())
			}
		})
	}
}

func TestClassifyContextAndFileErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	if got := classifier.ClassifyError(context.DeadlineExceeded); got.Type != ErrorTypeTimeout {
		t.Errorf("Expected timeout, got %v", got.Type)
	}
	if got := classifier.ClassifyError(context.Canceled); got.Type != ErrorTypeInterruption {
		t.Errorf("Expected interruption, got %v", got.Type)
	}

	pathErr := &os.PathError{Op: "open", Path: "/x", Err: syscall.ENOENT}
	if got := classifier.ClassifyError(pathErr); got.Type != ErrorTypeIO {
		t.Errorf("Expected io, got %v", got.Type)
	}

	if got := classifier.ClassifyError(errors.New("boom")); got.Type != ErrorTypeUnknown {
		t.Errorf("Expected unknown, got %v", got.Type)
	}

	if classifier.ClassifyError(nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestRetryHandler(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2,
	})

	t.Run("retries recoverable errors", func(t *testing.T) {
		attempts := 0
		err := handler.Retry(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return NewConnectionError("down", nil)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Expected success, got %v", err)
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		attempts := 0
		err := handler.Retry(context.Background(), func() error {
			attempts++
			return NewFormatError("bad", nil)
		})
		if err == nil {
			t.Fatal("Expected error")
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := handler.Retry(ctx, func() error { return nil })
		if GetErrorType(err) != ErrorTypeInterruption {
			t.Errorf("Expected interruption, got %v", err)
		}
	})
}

func TestCalculateDelayCapsAtMax(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{
		MaxAttempts: 10,
		BaseDelay:   time.Second,
		MaxDelay:    3 * time.Second,
		Multiplier:  2,
	})

	if d := handler.calculateDelay(1); d != time.Second {
		t.Errorf("Expected 1s, got %v", d)
	}
	if d := handler.calculateDelay(2); d != 2*time.Second {
		t.Errorf("Expected 2s, got %v", d)
	}
	if d := handler.calculateDelay(5); d != 3*time.Second {
		t.Errorf("Expected capped 3s, got %v", d)
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, "x") != nil {
		t.Error("Expected nil for nil error")
	}

	wrapped := WrapError(NewIOError("disk", nil), "could not write artifact")
	if GetErrorType(wrapped) != ErrorTypeIO {
		t.Errorf("Expected io type to be preserved, got %v", GetErrorType(wrapped))
	}

	classified := WrapError(&mysql.MySQLError{Number: 2003}, "connect")
	if GetErrorType(classified) != ErrorTypeConnection {
		t.Errorf("Expected connection type, got %v", GetErrorType(classified))
	}
}
