package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lims-backup/internal/backup"
	"lims-backup/internal/confirmation"
	"lims-backup/internal/config"
	appErrors "lims-backup/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags() {
	cfgFile = ""
	verbose = false
	quiet = false
	outputFormat = "table"
	noColor = false
	logFile = ""
	autoApprove = false
	configForce = false
	cleanupRetentionDays = 0
	cleanupDryRun = false
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeTestConfig writes a configuration whose backup directory and file root
// live under a temporary directory.
func writeTestConfig(t *testing.T) (path, backupDir string) {
	t.Helper()
	root := t.TempDir()
	backupDir = filepath.Join(root, "backups")
	fileRoot := filepath.Join(root, "uploads")
	require.NoError(t, os.MkdirAll(fileRoot, 0o755))

	content := fmt.Sprintf(`database:
  host: localhost
  username: lims
  database: lims
backup:
  dir: %s
  file_root: %s
  retention_days: 30
logging:
  level: quiet
`, backupDir, fileRoot)
	path = filepath.Join(root, "lims-backup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, backupDir
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(assert.AnError))
	assert.Equal(t, 2, exitCode(appErrors.NewValidationError("bad", nil)))
	assert.Equal(t, 75, exitCode(backup.NewLockError("busy", nil)))
	assert.Equal(t, 130, exitCode(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.Equal(t, 130, exitCode(fmt.Errorf("restore: %w", confirmation.ErrCancelled)))
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "today", "abc123", "go1.25")
	t.Cleanup(func() { SetVersionInfo("dev", "unknown", "unknown", "unknown") })

	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "lims-backup version 1.2.3")
	assert.Contains(t, out, "Commit: abc123")
}

func TestCommandsRegistered(t *testing.T) {
	for _, path := range [][]string{
		{"export"}, {"import"}, {"serve"},
		{"snapshot", "create"}, {"snapshot", "restore"}, {"snapshot", "list"},
		{"snapshot", "log"}, {"snapshot", "cleanup"}, {"snapshot", "verify"},
		{"config", "init"}, {"config", "check"},
	} {
		found, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], found.Name())
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "lims-backup.yaml")

	out, err := runCLI(t, "config", "init", path, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = runCLI(t, "config", "init", path)
	require.Error(t, err, "existing file must not be overwritten")

	_, err = runCLI(t, "config", "init", path, "--force")
	require.NoError(t, err)

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "lims", cfg.Database.Database)
}

func TestConfigCheck(t *testing.T) {
	path, backupDir := writeTestConfig(t)

	out, err := runCLI(t, "config", "check", "--config", path, "--format", "json")
	require.NoError(t, err)

	var result config.InitializationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	assert.True(t, result.Success)
	assert.True(t, result.StorageReady)
	assert.True(t, result.FileRootReady)
	assert.DirExists(t, backupDir)
}

func TestConfigCheckFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lims-backup.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backup:\n  dir: "+t.TempDir()+"\n"), 0o600))

	out, err := runCLI(t, "config", "check", "--config", path, "--no-color")
	require.Error(t, err)
	assert.Contains(t, out, "Configuration validation failed")
}

func TestSnapshotListOffline(t *testing.T) {
	path, backupDir := writeTestConfig(t)
	require.NoError(t, os.MkdirAll(backupDir, 0o755))
	name := "backup_settings_manual_2024-06-01_09-30-00.json.gz"
	require.NoError(t, os.WriteFile(filepath.Join(backupDir, name), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(backupDir, "notes.txt"), []byte("x"), 0o644))

	out, err := runCLI(t, "snapshot", "list", "--config", path, "--format", "json")
	require.NoError(t, err)

	var files []backup.ArtifactFile
	require.NoError(t, json.Unmarshal([]byte(out), &files), out)
	require.Len(t, files, 1)
	assert.Equal(t, name, files[0].Name)
	assert.Equal(t, backup.CompressionTypeGzip, files[0].Compression)

	out, err = runCLI(t, "snapshot", "list", "--config", path, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, name)
	assert.Contains(t, out, "settings")
}

func TestSnapshotCleanupDryRun(t *testing.T) {
	path, backupDir := writeTestConfig(t)
	require.NoError(t, os.MkdirAll(backupDir, 0o755))
	name := "backup_full_daily_2020-01-01_02-00-00.json"
	file := filepath.Join(backupDir, name)
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))
	old := time.Date(2020, 1, 1, 2, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(file, old, old))

	out, err := runCLI(t, "snapshot", "cleanup", "--config", path, "--format", "yaml", "--dry-run", "--retention-days", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "dry_run: true")
	assert.Contains(t, out, name)
	assert.FileExists(t, file, "dry run must not delete")
}

func TestInvalidFormat(t *testing.T) {
	path, _ := writeTestConfig(t)
	_, err := runCLI(t, "snapshot", "log", "--config", path, "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}
