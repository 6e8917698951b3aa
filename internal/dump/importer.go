package dump

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"lims-backup/internal/database"
	"lims-backup/internal/errors"
	"lims-backup/internal/logging"
)

// ImportResult summarizes a successful replay.
type ImportResult struct {
	Executed int           `json:"executed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"-"`
}

// Importer replays an uploaded SQL dump statement by statement.
type Importer struct {
	logger *logging.Logger
	audit  database.AuditLogger
	now    func() time.Time
}

// NewImporter creates an importer. audit may be nil.
func NewImporter(logger *logging.Logger, audit database.AuditLogger) *Importer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Importer{logger: logger, audit: audit, now: time.Now}
}

// Import reads the whole script from r and executes its statements in order on a
// single session of db. Non-critical statements are skipped. The first failing
// statement stops the replay: the transaction is rolled back, foreign-key checks
// are re-enabled and a *errors.StatementError is returned. Once any statement has
// run the error is wrapped in an inconsistent *errors.RestoreError, since DDL
// commits implicitly.
func (im *Importer) Import(ctx context.Context, db *sql.DB, r io.Reader) (*ImportResult, error) {
	start := im.now()

	script, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewIOError("failed to read SQL script", err)
	}

	result, err := im.replay(ctx, db, string(script))
	result.Duration = im.now().Sub(start)
	im.logger.LogImport(result.Executed, result.Skipped, result.Duration, err)
	if err != nil {
		return nil, err
	}

	database.RecordBestEffort(ctx, im.audit, im.logger, "sql_import",
		fmt.Sprintf("executed %d statements, skipped %d", result.Executed, result.Skipped))
	return result, nil
}

func (im *Importer) replay(ctx context.Context, db *sql.DB, script string) (*ImportResult, error) {
	result := &ImportResult{}

	conn, err := db.Conn(ctx)
	if err != nil {
		return result, errors.NewConnectionError("failed to acquire database session", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS=0"); err != nil {
		return result, errors.WrapError(err, "failed to disable foreign key checks")
	}
	defer im.enableForeignKeys(ctx, conn)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return result, errors.WrapError(err, "failed to begin transaction")
	}

	tok := NewTokenizer(script)
	for tok.Scan() {
		stmt := tok.Statement()
		if stmt.NonCritical {
			result.Skipped++
			continue
		}

		execStart := time.Now()
		_, execErr := tx.ExecContext(ctx, stmt.SQL)
		im.logger.LogSQLExecution(stmt.SQL, stmt.Line, time.Since(execStart), execErr)
		if execErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				im.logger.WithField("error", rbErr.Error()).Warn("Rollback after failed statement failed")
			}
			stmtErr := errors.NewStatementError(stmt.Line, stmt.SQL, execErr)
			if result.Executed > 0 {
				return result, &errors.RestoreError{Phase: "import", Inconsistent: true, Cause: stmtErr}
			}
			return result, stmtErr
		}
		result.Executed++
	}

	if err := tx.Commit(); err != nil {
		return result, &errors.RestoreError{Phase: "commit", Inconsistent: result.Executed > 0, Cause: err}
	}
	return result, nil
}

// enableForeignKeys restores the session setting even when ctx has been cancelled.
func (im *Importer) enableForeignKeys(ctx context.Context, conn *sql.Conn) {
	if _, err := conn.ExecContext(context.WithoutCancel(ctx), "SET FOREIGN_KEY_CHECKS=1"); err != nil {
		im.logger.WithField("error", err.Error()).Warn("Failed to re-enable foreign key checks")
	}
}
