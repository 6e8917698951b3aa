package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"lims-backup/internal/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupLog_AppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultLogFile)
	log := NewBackupLog(path)

	entries, err := log.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, entries)

	name := "backup_full_daily_2024-01-01_02-00-00.json"
	require.NoError(t, log.Append(LogEntry{
		Timestamp: time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC),
		Type:      snapshot.TypeFull,
		Schedule:  ScheduleDaily,
		File:      &name,
		Size:      1024,
		Status:    StatusSuccess,
	}))
	require.NoError(t, log.Append(LogEntry{
		Timestamp: time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC),
		Type:      snapshot.TypeDatabase,
		Schedule:  ScheduleWeekly,
		Status:    StatusError,
		Error:     "connection refused",
	}))

	entries, err = log.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, name, *entries[0].File)
	assert.Nil(t, entries[1].File)
	assert.Equal(t, int64(0), entries[1].Size)
	assert.Equal(t, "connection refused", entries[1].Error)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"file": null`)
	assert.Equal(t, byte('['), raw[0], "the log is a JSON array")

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".backup_log-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestBackupLog_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultLogFile)
	require.NoError(t, os.WriteFile(path, []byte("{not an array"), 0o644))

	log := NewBackupLog(path)
	_, err := log.ReadAll()
	assert.Error(t, err)
	assert.Error(t, log.Append(LogEntry{Status: StatusSuccess}), "a corrupt log must not be overwritten")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not an array", string(raw))
}
