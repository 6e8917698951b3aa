package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"lims-backup/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_AcquireRelease(t *testing.T) {
	dir := t.TempDir()
	locker := NewLocker(dir, time.Hour, logging.NewNopLogger())

	lock, err := locker.Acquire("snapshot")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), lock.Info().PID)
	assert.NotEmpty(t, lock.Info().Token)

	_, err = locker.Acquire("restore")
	require.Error(t, err)
	assert.True(t, IsLockError(err))
	assert.Contains(t, err.Error(), "another backup operation is running")

	lock.Release()
	_, err = os.Stat(filepath.Join(dir, LockFileName))
	assert.True(t, os.IsNotExist(err))

	again, err := locker.Acquire("restore")
	require.NoError(t, err)
	again.Release()
}

func TestLocker_ReplacesStaleLocks(t *testing.T) {
	tests := []struct {
		name    string
		content string
		alive   bool
	}{
		{"dead process", LockInfo{PID: 999999, Operation: "export", AcquiredAt: time.Now().UTC(), Token: "t"}.String(), false},
		{"expired", LockInfo{PID: 1, Operation: "export", AcquiredAt: time.Now().Add(-3 * time.Hour).UTC(), Token: "t"}.String(), true},
		{"garbage", "not a lock", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, LockFileName), []byte(tt.content), 0o644))

			locker := NewLocker(dir, time.Hour, logging.NewNopLogger())
			locker.alive = func(int) bool { return tt.alive }

			lock, err := locker.Acquire("snapshot")
			require.NoError(t, err)
			assert.Equal(t, "snapshot", lock.Info().Operation)
			lock.Release()
		})
	}
}

func TestLocker_LiveLockBlocks(t *testing.T) {
	dir := t.TempDir()
	held := LockInfo{PID: 4242, Operation: "restore", AcquiredAt: time.Now().UTC(), Token: "other"}
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockFileName), []byte(held.String()), 0o644))

	locker := NewLocker(dir, time.Hour, logging.NewNopLogger())
	locker.alive = func(pid int) bool { return pid == 4242 }

	_, err := locker.Acquire("snapshot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restore")
}

func TestLock_ReleaseKeepsForeignLock(t *testing.T) {
	dir := t.TempDir()
	locker := NewLocker(dir, time.Hour, logging.NewNopLogger())

	lock, err := locker.Acquire("snapshot")
	require.NoError(t, err)

	foreign := LockInfo{PID: os.Getpid(), Operation: "restore", AcquiredAt: time.Now().UTC(), Token: "someone-else"}
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockFileName), []byte(foreign.String()), 0o644))

	lock.Release()
	_, err = os.Stat(filepath.Join(dir, LockFileName))
	assert.NoError(t, err, "a lock taken over by another holder must survive Release")
}

func TestLock_NilRelease(t *testing.T) {
	var lock *Lock
	assert.NotPanics(t, func() { lock.Release() })
}

func TestLocker_StaleTakeoverYieldsToFasterProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LockFileName)
	stale := LockInfo{PID: 999999, Operation: "export", AcquiredAt: time.Now().UTC(), Token: "stale"}
	require.NoError(t, os.WriteFile(path, []byte(stale.String()), 0o644))

	winner := LockInfo{PID: 4242, Operation: "restore", AcquiredAt: time.Now().UTC(), Token: "winner"}
	locker := NewLocker(dir, time.Hour, logging.NewNopLogger())
	locker.alive = func(pid int) bool { return pid == 4242 }
	locker.staleSeen = func() {
		// Another process recovers the stale lock between inspection and takeover.
		require.NoError(t, os.Remove(path))
		require.NoError(t, os.WriteFile(path, []byte(winner.String()), 0o644))
	}

	_, err := locker.Acquire("snapshot")
	require.Error(t, err)
	assert.True(t, IsLockError(err))
	assert.Contains(t, err.Error(), "restore")

	data, err := os.ReadFile(path)
	require.NoError(t, err, "the faster process must keep its lock")
	assert.Equal(t, winner.String(), string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary lock files may be left behind")
}

func TestLocker_LockFileAlwaysHasContent(t *testing.T) {
	dir := t.TempDir()
	locker := NewLocker(dir, time.Hour, logging.NewNopLogger())

	lock, err := locker.Acquire("snapshot")
	require.NoError(t, err)
	defer lock.Release()

	data, err := os.ReadFile(filepath.Join(dir, LockFileName))
	require.NoError(t, err)
	info, err := parseLockInfo(string(data))
	require.NoError(t, err)
	assert.Equal(t, lock.Info().Token, info.Token)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
