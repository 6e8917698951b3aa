package backup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lims-backup/internal/snapshot"
)

// Log entry statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// LogEntry records one snapshot attempt. File is nil and Size is zero when the
// attempt failed.
type LogEntry struct {
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Type      snapshot.Type `json:"type" yaml:"type"`
	Schedule  ScheduleType  `json:"schedule" yaml:"schedule"`
	File      *string       `json:"file" yaml:"file"`
	Size      int64         `json:"size" yaml:"size"`
	Status    string        `json:"status" yaml:"status"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// BackupLog is an append-only JSON array of LogEntry persisted to one file.
type BackupLog struct {
	path string
	mu   sync.Mutex
}

// NewBackupLog opens the log at path. The file is created on first append.
func NewBackupLog(path string) *BackupLog {
	return &BackupLog{path: path}
}

// Path returns the log file location.
func (l *BackupLog) Path() string {
	return l.path
}

// ReadAll returns every entry in append order. A missing log is empty.
func (l *BackupLog) ReadAll() ([]LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

// Append adds entry to the end of the log. The whole array is rewritten
// through a temporary file and renamed into place.
func (l *BackupLog) Append(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return NewStorageError("failed to encode backup log", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return NewStorageError("failed to create backup log directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".backup_log-*.tmp")
	if err != nil {
		return NewStorageError("failed to write backup log", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return NewStorageError("failed to write backup log", err)
	}
	if err := tmp.Close(); err != nil {
		return NewStorageError("failed to write backup log", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return NewStorageError("failed to replace backup log", err)
	}
	return nil
}

func (l *BackupLog) read() ([]LogEntry, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return []LogEntry{}, nil
	}
	if err != nil {
		return nil, NewStorageError("failed to read backup log", err)
	}
	if len(data) == 0 {
		return []LogEntry{}, nil
	}

	var entries []LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, NewStorageError("backup log is not a JSON array of entries", err)
	}
	return entries, nil
}
