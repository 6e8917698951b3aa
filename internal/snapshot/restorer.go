package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"lims-backup/internal/database"
	"lims-backup/internal/errors"
	"lims-backup/internal/logging"
)

// FileError reports a file entry that could not be restored.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// RestoreResult summarizes a finished restore.
type RestoreResult struct {
	Tables     int           `json:"restored_tables"`
	Rows       int           `json:"restored_rows"`
	Files      int           `json:"restored_files"`
	FileErrors []FileError   `json:"file_errors,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	Duration   time.Duration `json:"-"`
}

// Restorer replaces the target database and file tree with a manifest's content.
type Restorer struct {
	db       *sql.DB
	fileRoot string
	logger   *logging.Logger
	audit    database.AuditLogger
}

// NewRestorer creates a restorer. fileRoot may be empty, in which case file
// entries are skipped. audit may be nil.
func NewRestorer(db *sql.DB, fileRoot string, logger *logging.Logger, audit database.AuditLogger) *Restorer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Restorer{db: db, fileRoot: fileRoot, logger: logger, audit: audit}
}

// Restore drops every table in the target database, recreates the manifest's
// tables with their rows inside one transaction, then writes the manifest's files.
// A relational failure after the first DROP is reported as an inconsistent
// *errors.RestoreError. File failures are collected in the result and do not
// undo the relational restore.
func (r *Restorer) Restore(ctx context.Context, m *Manifest) (*RestoreResult, error) {
	start := time.Now()

	warnings, err := Validate(m)
	if err != nil {
		r.logger.LogRestore(0, 0, 0, time.Since(start), err)
		return nil, err
	}
	result := &RestoreResult{Warnings: warnings}
	for _, w := range warnings {
		r.logger.Warn(w)
	}

	if err := r.restoreTables(ctx, m, result); err != nil {
		r.logger.LogRestore(result.Tables, 0, 0, time.Since(start), err)
		return nil, err
	}

	if len(m.Files) > 0 {
		r.restoreFiles(m.Files, result)
	}

	result.Duration = time.Since(start)
	r.logger.LogRestore(result.Tables, result.Files, len(result.FileErrors), result.Duration, nil)

	database.RecordBestEffort(ctx, r.audit, r.logger, "snapshot_restore",
		fmt.Sprintf("restored %d tables, %d rows and %d files from backup of %s", result.Tables, result.Rows, result.Files, m.CreatedAt.Format(time.RFC3339)))
	return result, nil
}

func (r *Restorer) restoreTables(ctx context.Context, m *Manifest, result *RestoreResult) error {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return errors.NewConnectionError("failed to acquire database session", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapError(err, "failed to begin transaction")
	}

	applied := false
	fail := func(phase string, cause error) error {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			r.logger.WithField("error", rbErr.Error()).Warn("Rollback after failed restore failed")
		}
		if _, fkErr := conn.ExecContext(context.WithoutCancel(ctx), "SET FOREIGN_KEY_CHECKS=1"); fkErr != nil {
			r.logger.WithField("error", fkErr.Error()).Warn("Failed to re-enable foreign key checks")
		}
		return &errors.RestoreError{Phase: phase, Inconsistent: applied, Cause: cause}
	}

	if _, err := tx.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS=0"); err != nil {
		return fail("prepare", err)
	}

	existing, err := database.ListTables(ctx, tx)
	if err != nil {
		return fail("drop", err)
	}
	for _, table := range existing {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+database.QuoteIdentifier(table)); err != nil {
			return fail("drop", fmt.Errorf("failed to drop %s: %w", table, err))
		}
		applied = true
	}

	for _, name := range m.TableNames() {
		t := m.Tables[name]
		if strings.TrimSpace(t.Structure) == "" {
			msg := fmt.Sprintf("table %s has no structure and was not recreated", name)
			result.Warnings = append(result.Warnings, msg)
			r.logger.Warn(msg)
			continue
		}

		if _, err := tx.ExecContext(ctx, t.Structure); err != nil {
			return fail("create", fmt.Errorf("failed to create %s: %w", name, err))
		}
		applied = true

		rows, err := r.insertRows(ctx, tx, t)
		if err != nil {
			return fail("insert", err)
		}
		result.Tables++
		result.Rows += rows
	}

	if _, err := tx.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS=1"); err != nil {
		return fail("finalize", err)
	}
	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}
	return nil
}

// insertRows writes t's rows one statement per row. The column set comes from
// the first row; later rows missing a column insert NULL for it.
func (r *Restorer) insertRows(ctx context.Context, tx *sql.Tx, t *TableSnapshot) (int, error) {
	if len(t.Rows) == 0 {
		return 0, nil
	}

	columns := make([]string, 0, len(t.Rows[0]))
	for col := range t.Rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = database.QuoteIdentifier(col)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		database.QuoteIdentifier(t.Name),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))

	args := make([]any, len(columns))
	for i, row := range t.Rows {
		for j, col := range columns {
			v, err := normalizeValue(row[col])
			if err != nil {
				return i, errors.WrapError(err, fmt.Sprintf("row %d of %s, column %s", i+1, t.Name, col))
			}
			args[j] = v
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return i, errors.NewStatementError(0, query, fmt.Errorf("row %d of %s: %w", i+1, t.Name, err))
		}
	}
	return len(t.Rows), nil
}

// normalizeValue converts decoded JSON values into driver arguments. Tagged
// binary values become []byte.
func normalizeValue(v any) (any, error) {
	if data, ok, err := DecodeBinary(v); ok {
		return data, err
	}
	switch val := v.(type) {
	case json.Number:
		return val.String(), nil
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val), nil
		}
		return string(data), nil
	default:
		return v, nil
	}
}

func (r *Restorer) restoreFiles(files []FileEntry, result *RestoreResult) {
	if r.fileRoot == "" {
		msg := fmt.Sprintf("backup contains %d files but no file root is configured; files were not restored", len(files))
		result.Warnings = append(result.Warnings, msg)
		r.logger.Warn(msg)
		return
	}

	if err := os.MkdirAll(r.fileRoot, 0o755); err != nil {
		for _, f := range files {
			result.FileErrors = append(result.FileErrors, FileError{Path: f.Path, Error: err.Error()})
		}
		r.logger.WithField("error", err.Error()).Error("Failed to create file root")
		return
	}

	for _, f := range files {
		if err := r.writeFile(f); err != nil {
			result.FileErrors = append(result.FileErrors, FileError{Path: f.Path, Error: err.Error()})
			r.logger.WithFields(map[string]interface{}{"path": f.Path, "error": err.Error()}).Warn("File not restored")
			continue
		}
		result.Files++
	}
}

func (r *Restorer) writeFile(f FileEntry) error {
	if err := ValidatePath(f.Path); err != nil {
		return err
	}
	data, err := f.Decode()
	if err != nil {
		return err
	}

	target := filepath.Join(r.fileRoot, filepath.FromSlash(f.Path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.NewIOError("failed to create directory", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return errors.NewIOError("failed to write file", err)
	}
	if f.Modified.Valid() && !f.Modified.IsZero() {
		if err := os.Chtimes(target, f.Modified.Time, f.Modified.Time); err != nil {
			r.logger.WithField("path", f.Path).Debug("Could not restore modification time")
		}
	}
	return nil
}
