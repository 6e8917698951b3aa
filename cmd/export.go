package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lims-backup/internal/display"
	"lims-backup/internal/dump"
	"lims-backup/internal/errors"

	"github.com/spf13/cobra"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the database as a SQL script",
	Long: `Write a replayable SQL dump of every table: DROP/CREATE statements
followed by batched INSERTs, wrapped in foreign-key check toggles.

The file is written next to its final name and renamed when complete, so a
failed export never leaves a partial dump behind.

Examples:
  # Export to lims_<timestamp>.sql in the current directory
  lims-backup export

  # Export to a chosen file, or stream to stdout
  lims-backup export -o /var/backups/lims.sql
  lims-backup export -o - | gzip > lims.sql.gz`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, runExport)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file, or - for stdout (default <database>_<timestamp>.sql)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(ctx context.Context, rt *runtime) error {
	if exportOutput == "-" {
		// The dump owns stdout; status goes to stderr.
		printer, err := newPrinter(os.Stderr)
		if err != nil {
			return err
		}
		rt.printer = printer

		w := bufio.NewWriterSize(os.Stdout, 256<<10)
		result, err := rt.manager.ExportSQL(ctx, w)
		if err == nil {
			err = w.Flush()
		}
		if err != nil {
			return err
		}
		return printExportResult(rt.printer, "stdout", result)
	}

	path := exportOutput
	if path == "" {
		path = rt.manager.ExportFileName(time.Now())
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.tmp")
	if err != nil {
		return errors.NewIOError("failed to create export file", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriterSize(tmp, 256<<10)
	result, err := rt.manager.ExportSQL(ctx, w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = errors.NewIOError("failed to close export file", cerr)
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.NewIOError(fmt.Sprintf("failed to move export to %s", path), err)
	}
	return printExportResult(rt.printer, path, result)
}

type exportSummary struct {
	File       string  `json:"file"`
	Tables     int     `json:"tables"`
	Rows       int64   `json:"rows"`
	DurationMS float64 `json:"duration_ms"`
}

func printExportResult(p *display.Printer, file string, result *dump.ExportResult) error {
	summary := exportSummary{
		File:       file,
		Tables:     result.Tables,
		Rows:       result.Rows,
		DurationMS: float64(result.Duration.Microseconds()) / 1000,
	}
	return p.Result(summary, func() {
		p.Success("Exported %d tables (%d rows) to %s in %s",
			result.Tables, result.Rows, file, result.Duration.Round(time.Millisecond))
	})
}
