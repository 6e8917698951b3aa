package cmd

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"lims-backup/internal/backup"
	"lims-backup/internal/confirmation"
	"lims-backup/internal/display"
	"lims-backup/internal/snapshot"

	"github.com/spf13/cobra"
)

var (
	snapshotType          string
	snapshotSchedule      string
	snapshotRetentionDays int
	snapshotCreatedBy     string
	cleanupRetentionDays  int
	cleanupDryRun         bool
)

var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	Aliases: []string{"snap"},
	Short:   "Create, restore and manage JSON snapshots",
	Long: `Snapshots capture table structure and rows, and for full snapshots the
uploaded file tree, in one JSON document stored in the backup directory.

Examples:
  lims-backup snapshot create --type settings
  lims-backup snapshot list --format json
  lims-backup snapshot verify backup_full_daily_2024-06-01_02-00-00.json.zst
  lims-backup snapshot cleanup --retention-days 14 --dry-run`,
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Take a snapshot now",
	Long: `Take a snapshot, append the outcome to the backup log, mirror the artifact
to remote storage when configured, and delete artifacts older than the
retention period.

Types:
  full      every table and the uploaded file tree
  database  every table
  settings  only the configured settings tables`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, runSnapshotCreate)
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <artifact|path>",
	Short: "Restore a snapshot",
	Long: `Restore a snapshot by artifact name from the backup directory, or from any
path. Every current table is dropped first, including tables the snapshot
does not contain, so restoring a settings snapshot leaves only the settings
tables.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, rt *runtime) error {
			return runSnapshotRestore(ctx, cmd, rt, args[0])
		})
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List artifacts in the backup directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, manager, err := offlineManager(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()
		files, err := manager.ListArtifacts()
		if err != nil {
			return err
		}
		return printArtifacts(rt.printer, files)
	},
}

var snapshotLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the backup log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, manager, err := offlineManager(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()
		entries, err := manager.ReadLog()
		if err != nil {
			return err
		}
		return printLog(rt.printer, entries)
	},
}

var snapshotCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete artifacts older than the retention period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, manager, err := offlineManager(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()
		result, err := manager.Cleanup(cmd.Context(), cleanupRetentionDays, cleanupDryRun)
		if err != nil {
			return err
		}
		return printRetention(rt.printer, result)
	},
}

var snapshotVerifyCmd = &cobra.Command{
	Use:   "verify <artifact>",
	Short: "Check that an artifact decompresses and decodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, manager, err := offlineManager(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()
		result, err := manager.VerifyArtifact(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		p := rt.printer
		return p.Result(result, func() {
			p.Success("%s is a valid snapshot", result.File)
			p.KeyValues(
				[2]string{"Created", result.CreatedAt},
				[2]string{"Size", display.FormatBytes(result.Size)},
				[2]string{"Tables", strconv.Itoa(result.Tables)},
				[2]string{"Files", strconv.Itoa(result.Files)},
				[2]string{"SHA-256", result.Checksum},
			)
			p.List("Warnings:", result.Warnings)
		})
	},
}

func init() {
	snapshotCreateCmd.Flags().StringVarP(&snapshotType, "type", "t", string(snapshot.TypeFull), "snapshot type (full, database, settings)")
	snapshotCreateCmd.Flags().StringVar(&snapshotSchedule, "schedule", string(backup.ScheduleManual), "schedule recorded in the artifact name (manual, daily, weekly, monthly)")
	snapshotCreateCmd.Flags().IntVar(&snapshotRetentionDays, "retention-days", 0, "retention period for the cleanup after the snapshot (default from config)")
	snapshotCreateCmd.Flags().StringVar(&snapshotCreatedBy, "created-by", "", "operator recorded in the snapshot (default current user)")

	snapshotRestoreCmd.Flags().BoolVarP(&autoApprove, "yes", "y", false, "do not ask for confirmation")

	snapshotCleanupCmd.Flags().IntVar(&cleanupRetentionDays, "retention-days", 0, "delete artifacts older than this many days (default from config)")
	snapshotCleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "list what would be deleted without deleting")

	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotRestoreCmd, snapshotListCmd, snapshotLogCmd, snapshotCleanupCmd, snapshotVerifyCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// offlineManager builds a manager for commands that only touch the backup
// directory and so do not need a database connection.
func offlineManager(cmd *cobra.Command) (*runtime, *backup.Manager, error) {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return nil, nil, err
	}
	remote, err := backup.NewStorageProviderFactory().CreateRemoteStore(cmd.Context(), rt.config.Backup.Remote)
	if err != nil {
		return nil, nil, err
	}
	rt.remote = remote
	manager, err := backup.NewManager(nil, rt.config.Database.Database, rt.config.Backup, remote, rt.logger)
	if err != nil {
		return nil, nil, err
	}
	return rt, manager, nil
}

func runSnapshotCreate(ctx context.Context, rt *runtime) error {
	backupType, err := snapshot.ParseType(snapshotType)
	if err != nil {
		return err
	}
	schedule, err := backup.ParseSchedule(snapshotSchedule)
	if err != nil {
		return err
	}
	createdBy := snapshotCreatedBy
	if createdBy == "" {
		if u, err := user.Current(); err == nil {
			createdBy = u.Username
		}
	}

	result, err := rt.manager.CreateSnapshot(ctx, backup.CreateRequest{
		Type:          backupType,
		Schedule:      schedule,
		RetentionDays: snapshotRetentionDays,
		CreatedBy:     createdBy,
	})
	if err != nil {
		return err
	}

	p := rt.printer
	return p.Result(result, func() {
		p.Success("Created %s", result.File)
		pairs := [][2]string{
			{"Path", result.Path},
			{"Size", display.FormatBytes(result.Size)},
			{"Tables", fmt.Sprintf("%d (%d rows)", result.Tables, result.Rows)},
			{"Files", strconv.Itoa(result.Files)},
			{"SHA-256", result.Checksum},
		}
		if result.Remote != "" {
			pairs = append(pairs, [2]string{"Remote", result.Remote})
		}
		p.KeyValues(pairs...)
		if result.TableErrors > 0 {
			p.Warning("%d tables could not be captured; see the artifact for details", result.TableErrors)
		}
		if result.Retention != nil && len(result.Retention.Deleted) > 0 {
			p.Info("Retention removed %d old artifacts", len(result.Retention.Deleted))
		}
	})
}

func runSnapshotRestore(ctx context.Context, cmd *cobra.Command, rt *runtime, target string) error {
	isPath := strings.ContainsRune(target, os.PathSeparator) || !backup.IsArtifactName(target)
	if _, err := os.Stat(target); err == nil {
		isPath = true
	}

	op := confirmation.Operation{
		Action: "Restore",
		Target: target,
		Effects: []string{
			fmt.Sprintf("replaces tables in %s with the snapshot content", rt.config.Database.Database),
			"drops every current table, including tables the snapshot does not contain",
		},
	}
	if rt.config.Backup.FileRoot != "" {
		op.Effects = append(op.Effects, fmt.Sprintf("overwrites files under %s", rt.config.Backup.FileRoot))
	}
	if err := confirm(cmd, op); err != nil {
		return err
	}

	var (
		result *snapshot.RestoreResult
		err    error
	)
	if isPath {
		result, err = rt.manager.RestoreFile(ctx, target)
	} else {
		result, err = rt.manager.RestoreArtifact(ctx, target)
	}
	if err != nil {
		return err
	}

	p := rt.printer
	return p.Result(result, func() {
		p.Success("Restored %d tables (%d rows) and %d files in %s",
			result.Tables, result.Rows, result.Files, result.Duration.Round(time.Millisecond))
		p.List("Warnings:", result.Warnings)
		if len(result.FileErrors) > 0 {
			p.Warning("%d files could not be restored", len(result.FileErrors))
			table := p.NewTable("Path", "Error")
			for _, fe := range result.FileErrors {
				table.AddRow(fe.Path, fe.Error)
			}
			_ = table.RenderTo(p.Writer())
		}
	})
}

func printArtifacts(p *display.Printer, files []backup.ArtifactFile) error {
	return p.Result(files, func() {
		if len(files) == 0 {
			p.Info("No snapshots in the backup directory")
			return
		}
		table := p.NewTable("Name", "Type", "Schedule", "Size", "Modified").AlignRight(3)
		for _, f := range files {
			table.AddRow(f.Name, string(f.Type), string(f.Schedule), display.FormatBytes(f.Size), formatTime(f.Modified))
		}
		_ = table.RenderTo(p.Writer())
	})
}

func printLog(p *display.Printer, entries []backup.LogEntry) error {
	return p.Result(entries, func() {
		if len(entries) == 0 {
			p.Info("The backup log is empty")
			return
		}
		table := p.NewTable("Time", "Type", "Schedule", "Status", "File", "Size", "Error").AlignRight(5)
		for _, e := range entries {
			file := "-"
			if e.File != nil {
				file = *e.File
			}
			size := "-"
			if e.Status == backup.StatusSuccess {
				size = display.FormatBytes(e.Size)
			}
			table.AddRow(formatTime(e.Timestamp), string(e.Type), string(e.Schedule), e.Status, file, size, e.Error)
		}
		_ = table.RenderTo(p.Writer())
	})
}

func printRetention(p *display.Printer, result *backup.RetentionResult) error {
	return p.Result(result, func() {
		verb := "Deleted"
		if result.DryRun {
			verb = "Would delete"
		}
		p.Success("%s %d artifacts older than %s, kept %d",
			verb, len(result.Deleted), formatTime(result.Cutoff), result.Kept)
		p.List("Artifacts:", result.Deleted)
		for _, e := range result.Errors {
			p.Error("%s", e)
		}
	})
}
