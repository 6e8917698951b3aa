package database

import (
	"context"
	"fmt"
	"time"

	"lims-backup/internal/logging"
)

// DefaultAuditTable is the table audit rows are written to when none is configured.
const DefaultAuditTable = "audit_log"

// AuditLogger records completed backup operations. Implementations must not be
// relied upon for correctness; callers treat a failure as a warning.
type AuditLogger interface {
	Record(ctx context.Context, action, details string) error
}

// SQLAuditLogger inserts one row per operation into an audit table with
// (action, details, created_at) columns.
type SQLAuditLogger struct {
	db    Execer
	table string
	now   func() time.Time
}

// NewSQLAuditLogger creates an audit logger writing to table through db.
func NewSQLAuditLogger(db Execer, table string) *SQLAuditLogger {
	if table == "" {
		table = DefaultAuditTable
	}
	return &SQLAuditLogger{db: db, table: table, now: time.Now}
}

// Record inserts an audit row.
func (a *SQLAuditLogger) Record(ctx context.Context, action, details string) error {
	query := fmt.Sprintf("INSERT INTO %s (action, details, created_at) VALUES (?, ?, ?)", QuoteIdentifier(a.table))
	if _, err := a.db.ExecContext(ctx, query, action, details, a.now().UTC().Format(time.DateTime)); err != nil {
		return fmt.Errorf("failed to write audit row: %w", err)
	}
	return nil
}

// RecordBestEffort writes an audit row through audit and logs, rather than
// returns, any failure. A nil audit is a no-op.
func RecordBestEffort(ctx context.Context, audit AuditLogger, logger *logging.Logger, action, details string) {
	if audit == nil {
		return
	}
	if err := audit.Record(ctx, action, details); err != nil {
		logger.WithFields(map[string]interface{}{
			"action": action,
			"error":  err.Error(),
		}).Warn("Failed to record audit entry")
	}
}
