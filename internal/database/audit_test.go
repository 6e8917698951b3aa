package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"lims-backup/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
)

type failingAudit struct{ calls int }

func (f *failingAudit) Record(ctx context.Context, action, details string) error {
	f.calls++
	return errors.New("audit table missing")
}

func TestSQLAuditLogger_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	audit := NewSQLAuditLogger(db, "")
	audit.now = func() time.Time { return time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC) }

	mock.ExpectExec("INSERT INTO `audit_log` \\(action, details, created_at\\)").
		WithArgs("sql_import", "42 statements", "2024-03-01 08:30:00").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := audit.Record(context.Background(), "sql_import", "42 statements"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestRecordBestEffort_SwallowsErrors(t *testing.T) {
	audit := &failingAudit{}

	RecordBestEffort(context.Background(), audit, logging.NewNopLogger(), "snapshot_restore", "3 tables")
	RecordBestEffort(context.Background(), nil, logging.NewNopLogger(), "snapshot_restore", "3 tables")

	if audit.calls != 1 {
		t.Errorf("Expected audit to be called once, got %d", audit.calls)
	}
}
