package cmd

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lims-backup/internal/backup"
	"lims-backup/internal/config"
	"lims-backup/internal/confirmation"
	"lims-backup/internal/database"
	"lims-backup/internal/display"
	"lims-backup/internal/errors"
	"lims-backup/internal/logging"

	"github.com/spf13/cobra"
)

// Global flag variables
var (
	cfgFile      string
	verbose      bool
	quiet        bool
	outputFormat string
	noColor      bool
	logFile      string
	autoApprove  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lims-backup",
	Short: "Backup and restore for the laboratory information system database",
	Long: `lims-backup exports and imports SQL dumps of the LIMS database, builds
JSON snapshots of tables and uploaded files, restores them, and prunes
old snapshots on a retention schedule.

Examples:
  # Export the database as a replayable SQL script
  lims-backup export -o lims.sql

  # Take a full snapshot and list what is in the backup directory
  lims-backup snapshot create --type full
  lims-backup snapshot list

  # Restore a snapshot without prompting
  lims-backup snapshot restore backup_full_daily_2024-06-01_02-00-00.json --yes

  # Serve the HTTP API and run scheduled snapshots
  lims-backup serve --config /etc/lims-backup.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it. SIGINT and
// SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case confirmation.IsCancelled(err), stderrors.Is(err, context.Canceled):
		return 130
	case backup.IsLockError(err):
		return 75
	case errors.GetErrorType(err) == errors.ErrorTypeValidation:
		return 2
	default:
		return 1
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default searches ./lims-backup.yaml, $HOME/.config/lims-backup/ and $HOME)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	pf.StringVar(&outputFormat, "format", "table", "output format (table, json, yaml)")
	pf.BoolVar(&noColor, "no-color", false, "disable color output")
	pf.StringVar(&logFile, "log-file", "", "also write logs to this file")

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
	rootCmd.AddCommand(createVersionCommand())
}

// runtime holds what a command needs after configuration is loaded.
type runtime struct {
	config  *config.Config
	logger  *logging.Logger
	printer *display.Printer

	db      *sql.DB
	dbs     *database.Service
	remote  backup.RemoteStore
	manager *backup.Manager
}

// loadRuntime reads configuration and builds the logger and printer. It does
// not connect to the database.
func loadRuntime(cmd *cobra.Command) (*runtime, error) {
	loader := config.NewLoader(cfgFile)
	v := loader.Viper()
	if err := v.BindPFlag("logging.file", cmd.Flags().Lookup("log-file")); err != nil {
		return nil, err
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, errors.NewValidationError("configuration error", err)
	}
	if verbose {
		cfg.Logging.Level = logging.LogLevelVerbose
	}
	if quiet {
		cfg.Logging.Level = logging.LogLevelQuiet
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if used := loader.ConfigFileUsed(); used != "" {
		logger.WithField("file", used).Debug("Using config file")
	}

	printer, err := newPrinter(cmd.OutOrStdout())
	if err != nil {
		return nil, err
	}
	return &runtime{config: cfg, logger: logger, printer: printer}, nil
}

func newPrinter(w io.Writer) (*display.Printer, error) {
	format, err := display.ParseOutputFormat(outputFormat)
	if err != nil {
		return nil, errors.NewValidationError("invalid --format", err)
	}
	return display.NewPrinter(&display.Config{
		Format:       format,
		ColorEnabled: !noColor && display.DetectColorSupport(),
		Quiet:        quiet,
		Writer:       w,
	}), nil
}

// connect opens the database, the remote store and the backup manager.
func (rt *runtime) connect(ctx context.Context) error {
	rt.dbs = database.NewServiceWithOptions(rt.logger, rt.config.Database.Timeout, errors.DefaultRetryConfig())
	db, err := rt.dbs.Connect(ctx, rt.config.Database)
	if err != nil {
		return err
	}
	rt.db = db

	remote, err := backup.NewStorageProviderFactory().CreateRemoteStore(ctx, rt.config.Backup.Remote)
	if err != nil {
		return err
	}
	rt.remote = remote

	manager, err := backup.NewManager(db, rt.config.Database.Database, rt.config.Backup, remote, rt.logger)
	if err != nil {
		return err
	}
	rt.manager = manager
	return nil
}

// Close releases the database and remote store.
func (rt *runtime) Close() {
	if c, ok := rt.remote.(io.Closer); ok {
		if err := c.Close(); err != nil {
			rt.logger.WithField("error", err).Warn("Failed to close remote store")
		}
	}
	if rt.db != nil {
		if err := rt.dbs.Close(rt.db); err != nil {
			rt.logger.WithField("error", err).Warn("Failed to close database connection")
		}
	}
}

// withManager loads configuration, connects and runs fn.
func withManager(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := rt.connect(ctx); err != nil {
		rt.Close()
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "lims-backup version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

// confirm asks before a destructive operation unless --yes was given.
func confirm(cmd *cobra.Command, op confirmation.Operation) error {
	return confirmation.NewConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr(), autoApprove).Confirm(op)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
