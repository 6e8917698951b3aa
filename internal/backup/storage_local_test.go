package backup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageProvider_UploadListDelete(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	store, err := NewLocalStorageProvider(LocalConfig{Path: root}, "backups/")
	require.NoError(t, err)

	name := "backup_full_daily_2024-03-01_02-00-00.json.gz"
	data := []byte("compressed snapshot")
	require.NoError(t, store.Upload(ctx, name, bytes.NewReader(data), int64(len(data))))

	got, err := os.ReadFile(filepath.Join(root, "backups", name))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, filepath.Join(root, "backups", name), store.Location(name))

	require.NoError(t, os.WriteFile(filepath.Join(root, "backups", "notes.txt"), []byte("x"), 0o644))
	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{name}, names)

	require.NoError(t, store.Delete(ctx, name))
	require.NoError(t, store.Delete(ctx, name), "deleting a missing copy is not an error")

	names, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStorageProvider_Rejects(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorageProvider(LocalConfig{Path: t.TempDir()}, "")
	require.NoError(t, err)

	err = store.Upload(ctx, "../escape.json", bytes.NewReader(nil), 0)
	require.Error(t, err)

	name := "backup_settings_manual_2024-03-01_02-00-00.json"
	err = store.Upload(ctx, name, bytes.NewReader([]byte("short")), 99)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 99")

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names, "a short copy must not be left behind")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, store.Upload(cancelled, name, bytes.NewReader([]byte("data")), 4))
}
