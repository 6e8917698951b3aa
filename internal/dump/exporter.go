package dump

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"lims-backup/internal/database"
	"lims-backup/internal/errors"
	"lims-backup/internal/logging"
)

// ExportResult summarizes a finished dump.
type ExportResult struct {
	Tables   int           `json:"tables"`
	Rows     int64         `json:"rows"`
	Duration time.Duration `json:"-"`
}

// Exporter writes a replayable SQL dump of every table in a database.
type Exporter struct {
	logger *logging.Logger
	now    func() time.Time
}

// NewExporter creates an exporter. A nil logger discards output.
func NewExporter(logger *logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Exporter{logger: logger, now: time.Now}
}

// Export streams the dump of the database behind q to w. Tables are written in
// table enumeration order and rows in the server's default scan order, with all rows of
// a table folded into a single INSERT. Foreign-key checks are disabled for the
// duration of the replay so tables can be recreated in any order.
func (e *Exporter) Export(ctx context.Context, q database.Queryer, databaseName string, w io.Writer) (*ExportResult, error) {
	start := e.now()
	result := &ExportResult{}

	err := e.export(ctx, q, databaseName, w, result)
	result.Duration = e.now().Sub(start)
	e.logger.LogExport(databaseName, result.Tables, result.Rows, result.Duration, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Exporter) export(ctx context.Context, q database.Queryer, databaseName string, w io.Writer, result *ExportResult) error {
	bw := bufio.NewWriterSize(w, 64*1024)

	tables, err := database.ListTables(ctx, q)
	if err != nil {
		return errors.WrapError(err, "failed to enumerate tables")
	}

	fmt.Fprintf(bw, "-- LIMS database dump\n-- Database: %s\n-- Generated: %s\n\n",
		databaseName, e.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(bw, "SET NAMES %s;\n", database.DefaultCharset)
	bw.WriteString("SET FOREIGN_KEY_CHECKS=0;\n\n")

	for _, table := range tables {
		rows, err := e.writeTable(ctx, q, bw, table)
		if err != nil {
			return err
		}
		result.Tables++
		result.Rows += rows
	}

	bw.WriteString("SET FOREIGN_KEY_CHECKS=1;\n")
	if err := bw.Flush(); err != nil {
		return errors.NewIOError("failed to write dump", err)
	}
	return nil
}

func (e *Exporter) writeTable(ctx context.Context, q database.Queryer, bw *bufio.Writer, table string) (int64, error) {
	ddl, err := database.ShowCreateTable(ctx, q, table)
	if err != nil {
		return 0, errors.WrapError(err, "failed to export table structure")
	}

	quoted := database.QuoteIdentifier(table)
	fmt.Fprintf(bw, "-- Table structure for %s\n", quoted)
	fmt.Fprintf(bw, "DROP TABLE IF EXISTS %s;\n%s;\n\n", quoted, ddl)

	scanner, err := database.ScanTable(ctx, q, table)
	if err != nil {
		return 0, errors.WrapError(err, "failed to export table data")
	}
	defer scanner.Close()

	var count int64
	for {
		row, ok, err := scanner.Next()
		if err != nil {
			return count, errors.WrapError(err, fmt.Sprintf("failed to export rows of %s", table))
		}
		if !ok {
			break
		}

		if count == 0 {
			fmt.Fprintf(bw, "INSERT INTO %s (%s) VALUES\n", quoted, columnList(scanner.Columns()))
		} else {
			bw.WriteString(",\n")
		}
		bw.WriteByte('(')
		for i, v := range row {
			if i > 0 {
				bw.WriteByte(',')
			}
			bw.WriteString(FormatValue(v))
		}
		bw.WriteByte(')')
		count++
	}

	if count > 0 {
		bw.WriteString(";\n\n")
	}
	return count, nil
}

func columnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = database.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ",")
}

// FormatValue renders v as a MySQL literal. NULL and numbers are written bare,
// booleans as 0 or 1, binary data as a hex literal, and everything else as an
// escaped single-quoted string.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case time.Time:
		return "'" + val.Format("2006-01-02 15:04:05.999999") + "'"
	case []byte:
		if !utf8.Valid(val) {
			return "X'" + hex.EncodeToString(val) + "'"
		}
		return QuoteString(string(val))
	case string:
		return QuoteString(val)
	default:
		return QuoteString(fmt.Sprint(val))
	}
}

// QuoteString escapes s the way the MySQL client library does for string
// literals and wraps it in single quotes. A value ending in a backslash is
// written as a hex literal instead, since the tokenizer would read its closing
// quote as escaped.
func QuoteString(s string) string {
	if strings.HasSuffix(s, "\\") {
		return "X'" + hex.EncodeToString([]byte(s)) + "'"
	}

	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		case 0x1a:
			b.WriteString(`\Z`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
