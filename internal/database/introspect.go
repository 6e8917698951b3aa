package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// QuoteIdentifier wraps name in backticks, doubling any embedded backtick.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// listTablesQuery enumerates base tables only; views have no rows of their own
// and SHOW CREATE TABLE returns a different column set for them.
const listTablesQuery = "SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'"

// ListTables returns the base tables of the current database in the server's
// enumeration order.
func ListTables(ctx context.Context, q Queryer) ([]string, error) {
	rows, err := q.QueryContext(ctx, listTablesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tables, nil
}

// ShowCreateTable returns the server's canonical CREATE TABLE statement for table.
func ShowCreateTable(ctx context.Context, q Queryer, table string) (string, error) {
	var name, ddl string
	query := "SHOW CREATE TABLE " + QuoteIdentifier(table)
	if err := q.QueryRowContext(ctx, query).Scan(&name, &ddl); err != nil {
		return "", fmt.Errorf("failed to read structure of %s: %w", table, err)
	}
	return ddl, nil
}

// RowScanner iterates the rows of a full table scan.
type RowScanner struct {
	rows    *sql.Rows
	columns []string
	values  []any
	ptrs    []any
}

// ScanTable starts a full scan of table in the server's default order.
func ScanTable(ctx context.Context, q Queryer, table string) (*RowScanner, error) {
	rows, err := q.QueryContext(ctx, "SELECT * FROM "+QuoteIdentifier(table))
	if err != nil {
		return nil, fmt.Errorf("failed to read data of %s: %w", table, err)
	}

	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	rs := &RowScanner{
		rows:    rows,
		columns: columns,
		values:  make([]any, len(columns)),
		ptrs:    make([]any, len(columns)),
	}
	for i := range rs.values {
		rs.ptrs[i] = &rs.values[i]
	}
	return rs, nil
}

// Columns returns the result column names in select order.
func (rs *RowScanner) Columns() []string {
	return rs.columns
}

// Next advances to the next row and returns its values. The returned slice is
// freshly allocated. Text and binary columns arrive as []byte owned by the
// caller; Scan copies them out of the driver's buffer.
func (rs *RowScanner) Next() ([]any, bool, error) {
	if !rs.rows.Next() {
		return nil, false, rs.rows.Err()
	}
	if err := rs.rows.Scan(rs.ptrs...); err != nil {
		return nil, false, fmt.Errorf("failed to scan row: %w", err)
	}

	row := make([]any, len(rs.values))
	copy(row, rs.values)
	return row, true, nil
}

// Close releases the underlying result set.
func (rs *RowScanner) Close() error {
	return rs.rows.Close()
}

// FetchTable reads all rows of table into memory.
func FetchTable(ctx context.Context, q Queryer, table string) ([]string, [][]any, error) {
	rs, err := ScanTable(ctx, q, table)
	if err != nil {
		return nil, nil, err
	}
	defer rs.Close()

	var rows [][]any
	for {
		row, ok, err := rs.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read data of %s: %w", table, err)
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return rs.Columns(), rows, nil
}
