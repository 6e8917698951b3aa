package cmd

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"lims-backup/internal/confirmation"
	"lims-backup/internal/errors"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Replay a SQL script against the database",
	Long: `Execute a SQL script statement by statement. Comments are ignored and
LOCK/UNLOCK TABLES statements are skipped. The import stops at the first
failing statement and reports its line number and a preview.

Statements already executed are not rolled back.

Examples:
  lims-backup import lims_2024-06-01_09-30-00.sql
  gunzip -c lims.sql.gz | lims-backup import - --yes`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, rt *runtime) error {
			return runImport(ctx, cmd, rt, args[0])
		})
	},
}

func init() {
	importCmd.Flags().BoolVarP(&autoApprove, "yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(importCmd)
}

func runImport(ctx context.Context, cmd *cobra.Command, rt *runtime, source string) error {
	var r io.Reader
	if source == "-" {
		if !autoApprove {
			return errors.NewValidationError("reading the script from stdin requires --yes", nil)
		}
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(source)
		if err != nil {
			return errors.NewIOError(fmt.Sprintf("failed to open %s", source), err)
		}
		defer f.Close()
		r = f
	}

	if err := confirm(cmd, confirmation.Operation{
		Action:  "Import",
		Target:  source,
		Effects: []string{fmt.Sprintf("executes every statement of the script against %s", rt.config.Database.Database)},
		Warnings: []string{
			"DROP TABLE statements in the script remove existing data",
			"a failure midway leaves earlier statements applied",
		},
	}); err != nil {
		return err
	}

	result, err := rt.manager.ImportSQL(ctx, bufio.NewReaderSize(r, 256<<10))
	if err != nil {
		var stmtErr *errors.StatementError
		if stderrors.As(err, &stmtErr) {
			rt.printer.Error("Statement at line %d failed: %v", stmtErr.Line, stmtErr.Cause)
			rt.printer.Error("Statement: %s", stmtErr.Preview)
		}
		return err
	}

	p := rt.printer
	return p.Result(result, func() {
		p.Success("Executed %d statements (%d skipped) in %s",
			result.Executed, result.Skipped, result.Duration.Round(time.Millisecond))
	})
}
