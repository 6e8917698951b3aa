package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"lims-backup/internal/logging"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
)

// LockFileName is the advisory lock held in the backup directory while any
// export, import, snapshot, restore or cleanup runs.
const LockFileName = ".lock"

// LockInfo is the content of a lock file.
type LockInfo struct {
	PID        int
	Operation  string
	AcquiredAt time.Time
	Token      string
}

func (li LockInfo) String() string {
	return fmt.Sprintf("%d|%s|%s|%s", li.PID, li.Operation, li.AcquiredAt.Format(time.RFC3339), li.Token)
}

func parseLockInfo(data string) (LockInfo, error) {
	parts := strings.SplitN(strings.TrimSpace(data), "|", 4)
	if len(parts) < 4 {
		return LockInfo{}, fmt.Errorf("invalid lock file format")
	}
	pid, err := strconv.Atoi(parts[0])
	if err != nil {
		return LockInfo{}, fmt.Errorf("invalid pid in lock file: %w", err)
	}
	acquired, err := time.Parse(time.RFC3339, parts[2])
	if err != nil {
		return LockInfo{}, fmt.Errorf("invalid timestamp in lock file: %w", err)
	}
	return LockInfo{PID: pid, Operation: parts[1], AcquiredAt: acquired, Token: parts[3]}, nil
}

// Lock is a held advisory lock. Release it with a deferred call.
type Lock struct {
	path   string
	info   LockInfo
	logger *logging.Logger
}

// Locker acquires the advisory lock of one directory.
type Locker struct {
	dir     string
	timeout time.Duration
	logger  *logging.Logger
	now     func() time.Time
	alive   func(pid int) bool

	staleSeen func()
}

// NewLocker creates a locker for dir. A held lock older than timeout, or held by
// a process that no longer exists, is considered stale and replaced.
func NewLocker(dir string, timeout time.Duration, logger *logging.Logger) *Locker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Locker{dir: dir, timeout: timeout, logger: logger, now: time.Now, alive: processAlive}
}

func processAlive(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}

// Acquire takes the lock for operation or fails with a lock error naming the
// operation that holds it.
func (l *Locker) Acquire(operation string) (*Lock, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, NewStorageError("failed to create backup directory", err)
	}
	path := filepath.Join(l.dir, LockFileName)

	info := LockInfo{
		PID:        os.Getpid(),
		Operation:  operation,
		AcquiredAt: l.now().UTC(),
		Token:      uuid.NewString(),
	}

	// The lock is written under a private name and linked into place, so the
	// lock file never exists without its content.
	pending := path + ".new-" + info.Token
	if err := os.WriteFile(pending, []byte(info.String()), 0o644); err != nil {
		return nil, NewStorageError("failed to write lock file", err)
	}
	defer os.Remove(pending)

	for attempt := 0; attempt < 3; attempt++ {
		err := os.Link(pending, path)
		if err == nil {
			l.logger.WithFields(map[string]interface{}{"operation": operation, "token": info.Token}).Debug("Backup lock acquired")
			return &Lock{path: path, info: info, logger: l.logger}, nil
		}
		if !os.IsExist(err) {
			return nil, NewStorageError("failed to create lock file", err)
		}

		held, content, stale := l.inspect(path)
		if !stale {
			return nil, l.heldError(held)
		}
		if l.staleSeen != nil {
			l.staleSeen()
		}
		l.logger.WithFields(map[string]interface{}{"operation": held.Operation, "pid": held.PID}).Warn("Replacing stale backup lock")
		current, took, err := l.takeOver(path, content, info.Token)
		if err != nil {
			return nil, err
		}
		if !took {
			return nil, l.heldError(current)
		}
	}
	return nil, NewLockError("could not acquire backup lock", nil)
}

func (l *Locker) heldError(held LockInfo) error {
	return NewLockError(fmt.Sprintf("another backup operation is running: %s since %s (pid %d)",
		held.Operation, held.AcquiredAt.Format(time.RFC3339), held.PID), nil)
}

// inspect reads the current lock file and decides whether it can be replaced.
// The raw content is returned so a takeover can confirm it moved the same file.
func (l *Locker) inspect(path string) (LockInfo, string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LockInfo{}, "", os.IsNotExist(err)
	}
	info, err := parseLockInfo(string(data))
	if err != nil {
		l.logger.WithField("path", path).Warn("Invalid lock file will be overwritten")
		return LockInfo{}, string(data), true
	}
	if l.timeout > 0 && l.now().Sub(info.AcquiredAt) > l.timeout {
		return info, string(data), true
	}
	if info.PID != os.Getpid() && !l.alive(info.PID) {
		return info, string(data), true
	}
	return info, string(data), false
}

// takeOver moves the stale lock at path aside under a name unique to token and
// checks that the moved file still has the stale content. If another process
// replaced the stale lock first, its lock is linked back into place and took is
// false. Rename and link are atomic, so two processes never both remove a live lock.
func (l *Locker) takeOver(path, stale, token string) (current LockInfo, took bool, err error) {
	aside := path + ".stale-" + token
	if err := os.Rename(path, aside); err != nil {
		if os.IsNotExist(err) {
			return LockInfo{}, true, nil
		}
		return LockInfo{}, false, NewStorageError("failed to move stale lock file", err)
	}
	defer os.Remove(aside)

	data, err := os.ReadFile(aside)
	if err != nil {
		return LockInfo{}, false, NewStorageError("failed to read moved lock file", err)
	}
	if string(data) == stale {
		return LockInfo{}, true, nil
	}

	current, _ = parseLockInfo(string(data))
	if err := os.Link(aside, path); err != nil {
		l.logger.WithFields(map[string]interface{}{"operation": current.Operation, "error": err.Error()}).
			Warn("Failed to put back a backup lock taken during stale-lock recovery")
	}
	return current, false, nil
}

// Info describes the held lock.
func (lk *Lock) Info() LockInfo {
	return lk.info
}

// Release removes the lock file if it still carries this lock's token.
func (lk *Lock) Release() {
	if lk == nil {
		return
	}
	data, err := os.ReadFile(lk.path)
	if err != nil {
		return
	}
	if info, err := parseLockInfo(string(data)); err != nil || info.Token != lk.info.Token {
		lk.logger.WithField("operation", lk.info.Operation).Warn("Backup lock was taken over, not removing it")
		return
	}
	if err := os.Remove(lk.path); err != nil && !os.IsNotExist(err) {
		lk.logger.WithField("error", err.Error()).Warn("Failed to remove backup lock")
	}
}
