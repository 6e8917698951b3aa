package backup

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"lims-backup/internal/database"
	"lims-backup/internal/dump"
	"lims-backup/internal/errors"
	"lims-backup/internal/logging"
	"lims-backup/internal/snapshot"
)

// Manager runs backup and restore operations against one database and one
// backup directory. Every operation holds the directory lock while it runs.
type Manager struct {
	db           *sql.DB
	databaseName string
	config       Config

	locker      *Locker
	log         *BackupLog
	retention   *RetentionManager
	compression *CompressionManager
	remote      RemoteStore
	audit       database.AuditLogger
	logger      *logging.Logger
	now         func() time.Time
}

// CreateRequest selects what a snapshot captures and how long artifacts are kept.
type CreateRequest struct {
	Type          snapshot.Type
	Schedule      ScheduleType
	RetentionDays int
	CreatedBy     string
}

// CreateResult describes a written artifact.
type CreateResult struct {
	File        string           `json:"file"`
	Path        string           `json:"path"`
	Size        int64            `json:"size"`
	Checksum    string           `json:"sha256,omitempty"`
	Tables      int              `json:"tables"`
	Rows        int              `json:"rows"`
	TableErrors int              `json:"table_errors"`
	Files       int              `json:"files"`
	Remote      string           `json:"remote,omitempty"`
	Retention   *RetentionResult `json:"retention,omitempty"`
}

// ArtifactFile is a snapshot artifact found in the backup directory.
type ArtifactFile struct {
	Name        string          `json:"name" yaml:"name"`
	Size        int64           `json:"size" yaml:"size"`
	Modified    time.Time       `json:"modified" yaml:"modified"`
	Type        snapshot.Type   `json:"type" yaml:"type"`
	Schedule    ScheduleType    `json:"schedule" yaml:"schedule"`
	Compression CompressionType `json:"compression" yaml:"compression"`
}

// NewManager creates a manager. remote may be nil to disable mirroring.
func NewManager(db *sql.DB, databaseName string, config Config, remote RemoteStore, logger *logging.Logger) (*Manager, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.NewValidationError("invalid backup configuration", err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	// Without a connection only directory operations are usable.
	var audit database.AuditLogger
	if db != nil {
		audit = database.NewSQLAuditLogger(db, config.AuditTable)
	}

	return &Manager{
		db:           db,
		databaseName: databaseName,
		config:       config,
		locker:       NewLocker(config.Dir, config.LockTimeout, logger),
		log:          NewBackupLog(filepath.Join(config.Dir, config.LogFile)),
		retention:    NewRetentionManager(config.Dir, remote, logger),
		compression:  NewCompressionManager(config.CompressionLevel),
		remote:       remote,
		audit:        audit,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// DatabaseName returns the name of the database being backed up.
func (m *Manager) DatabaseName() string {
	return m.databaseName
}

// CreateSnapshot streams a manifest into a new artifact, appends the outcome to
// the backup log, mirrors the artifact and then applies retention. Mirroring
// and retention failures are logged without failing the snapshot.
func (m *Manager) CreateSnapshot(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.Type == "" {
		req.Type = snapshot.TypeFull
	}
	if req.Schedule == "" {
		req.Schedule = ScheduleManual
	}
	if req.RetentionDays <= 0 {
		req.RetentionDays = m.config.RetentionDays
	}

	lock, err := m.locker.Acquire("snapshot_create")
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	now := m.now()
	name := ArtifactName(req.Type, req.Schedule, now, m.config.Compression)
	path := filepath.Join(m.config.Dir, name)

	built, size, err := m.writeArtifact(ctx, req, path)
	if err != nil {
		m.appendLog(LogEntry{
			Timestamp: now,
			Type:      req.Type,
			Schedule:  req.Schedule,
			Status:    StatusError,
			Error:     err.Error(),
		})
		return nil, err
	}

	m.appendLog(LogEntry{
		Timestamp: now,
		Type:      req.Type,
		Schedule:  req.Schedule,
		File:      &name,
		Size:      size,
		Status:    StatusSuccess,
	})

	result := &CreateResult{
		File:        name,
		Path:        path,
		Size:        size,
		Tables:      built.Tables,
		Rows:        built.Rows,
		TableErrors: built.TableErrors,
		Files:       built.Files,
	}
	if checksum, err := CalculateChecksum(path); err != nil {
		m.logger.WithField("file", name).WithError(err).Warn("Failed to checksum backup")
	} else {
		result.Checksum = checksum
	}

	if m.remote != nil {
		if err := m.upload(ctx, name, path, size); err != nil {
			m.logger.WithField("file", name).WithError(err).Warn("Failed to mirror backup")
		} else {
			result.Remote = m.remote.Location(name)
		}
	}

	retention, err := m.retention.Cleanup(ctx, req.RetentionDays, false)
	if err != nil {
		m.logger.WithField("error", err).Warn("Retention cleanup after snapshot failed")
	}
	result.Retention = retention

	m.logger.WithFields(map[string]interface{}{
		"file":         name,
		"size":         size,
		"type":         req.Type,
		"schedule":     req.Schedule,
		"tables":       built.Tables,
		"table_errors": built.TableErrors,
		"files":        built.Files,
	}).Info("Snapshot created")

	database.RecordBestEffort(ctx, m.audit, m.logger, "snapshot_create",
		fmt.Sprintf("file=%s type=%s schedule=%s size=%d", name, req.Type, req.Schedule, size))
	return result, nil
}

// writeArtifact builds the manifest into a temporary file and renames it to
// path once complete, so a failed build never leaves a file with an artifact name.
func (m *Manager) writeArtifact(ctx context.Context, req CreateRequest, path string) (*snapshot.BuildResult, int64, error) {
	if err := os.MkdirAll(m.config.Dir, 0o755); err != nil {
		return nil, 0, NewStorageError("failed to create backup directory", err)
	}

	tmp, err := os.CreateTemp(m.config.Dir, ".snapshot-*.tmp")
	if err != nil {
		return nil, 0, NewStorageError("failed to create artifact file", err)
	}
	defer os.Remove(tmp.Name())

	built, err := m.build(ctx, req, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = NewStorageError("failed to close artifact file", cerr)
	}
	if err != nil {
		return nil, 0, err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, 0, NewStorageError("failed to finalize artifact", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, NewStorageError("failed to stat artifact", err)
	}
	return built, info.Size(), nil
}

func (m *Manager) build(ctx context.Context, req CreateRequest, f *os.File) (*snapshot.BuildResult, error) {
	bw := bufio.NewWriterSize(f, 256*1024)
	cw, err := m.compression.NewWriter(bw, m.config.Compression)
	if err != nil {
		return nil, err
	}

	builder := snapshot.NewBuilder(m.db, snapshot.Options{
		Type:           req.Type,
		DatabaseName:   m.databaseName,
		CreatedBy:      req.CreatedBy,
		FileRoot:       m.config.FileRoot,
		SettingsTables: m.config.SettingsTables,
	}, m.logger)

	built, err := builder.WriteTo(ctx, cw)
	if cerr := cw.Close(); err == nil && cerr != nil {
		err = NewCompressionError("failed to finish compressed artifact", cerr)
	}
	if err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, NewStorageError("failed to write artifact", err)
	}
	if err := f.Sync(); err != nil {
		return nil, NewStorageError("failed to sync artifact", err)
	}
	return built, nil
}

func (m *Manager) upload(ctx context.Context, name, path string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return NewStorageError("failed to open artifact for upload", err)
	}
	defer f.Close()
	return m.remote.Upload(ctx, name, f, size)
}

func (m *Manager) appendLog(entry LogEntry) {
	if err := m.log.Append(entry); err != nil {
		m.logger.WithField("log_file", m.log.Path()).WithError(err).Error("Failed to append backup log")
	}
}

// Restore replaces the database and file tree with the manifest's content.
func (m *Manager) Restore(ctx context.Context, manifest *snapshot.Manifest) (*snapshot.RestoreResult, error) {
	lock, err := m.locker.Acquire("snapshot_restore")
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	return snapshot.NewRestorer(m.db, m.config.FileRoot, m.logger, m.audit).Restore(ctx, manifest)
}

// RestoreReader decodes a manifest compressed with alg from r and restores it.
func (m *Manager) RestoreReader(ctx context.Context, r io.Reader, alg CompressionType) (*snapshot.RestoreResult, error) {
	dr, err := m.compression.NewReader(r, alg)
	if err != nil {
		return nil, err
	}
	defer dr.Close()

	manifest, err := snapshot.Decode(dr)
	if err != nil {
		return nil, err
	}
	return m.Restore(ctx, manifest)
}

// RestoreFile restores an artifact file. Compression is taken from the file name.
func (m *Manager) RestoreFile(ctx context.Context, path string) (*snapshot.RestoreResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()

	m.logger.WithField("file", path).Info("Restoring from artifact")
	return m.RestoreReader(ctx, bufio.NewReader(f), CompressionFromName(path))
}

// RestoreArtifact restores an artifact from the backup directory by name.
func (m *Manager) RestoreArtifact(ctx context.Context, name string) (*snapshot.RestoreResult, error) {
	if !IsArtifactName(name) {
		return nil, errors.NewValidationError(fmt.Sprintf("%q is not a backup artifact name", name), nil)
	}
	return m.RestoreFile(ctx, filepath.Join(m.config.Dir, name))
}

// VerifyArtifact decodes and validates an artifact from the backup directory
// without restoring it.
func (m *Manager) VerifyArtifact(ctx context.Context, name string) (*VerifyResult, error) {
	if !IsArtifactName(name) {
		return nil, errors.NewValidationError(fmt.Sprintf("%q is not a backup artifact name", name), nil)
	}
	return NewArtifactValidator(m.compression).Verify(ctx, filepath.Join(m.config.Dir, name))
}

// ExportSQL writes a SQL dump of the database to w.
func (m *Manager) ExportSQL(ctx context.Context, w io.Writer) (*dump.ExportResult, error) {
	lock, err := m.locker.Acquire("sql_export")
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	return dump.NewExporter(m.logger).Export(ctx, m.db, m.databaseName, w)
}

// ImportSQL replays a SQL script against the database.
func (m *Manager) ImportSQL(ctx context.Context, r io.Reader) (*dump.ImportResult, error) {
	lock, err := m.locker.Acquire("sql_import")
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	return dump.NewImporter(m.logger, m.audit).Import(ctx, m.db, r)
}

// ExportFileName is the download name of a SQL dump taken at t.
func (m *Manager) ExportFileName(t time.Time) string {
	return fmt.Sprintf("%s_%s.sql", m.databaseName, t.Format(artifactTimeLayout))
}

// Cleanup applies retention. retentionDays <= 0 uses the configured default.
func (m *Manager) Cleanup(ctx context.Context, retentionDays int, dryRun bool) (*RetentionResult, error) {
	if retentionDays <= 0 {
		retentionDays = m.config.RetentionDays
	}

	lock, err := m.locker.Acquire("retention_cleanup")
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	return m.retention.Cleanup(ctx, retentionDays, dryRun)
}

// ReadLog returns every backup log entry in append order.
func (m *Manager) ReadLog() ([]LogEntry, error) {
	return m.log.ReadAll()
}

// ListArtifacts returns the artifacts in the backup directory, newest first.
func (m *Manager) ListArtifacts() ([]ArtifactFile, error) {
	entries, err := os.ReadDir(m.config.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ArtifactFile{}, nil
		}
		return nil, NewStorageError("failed to read backup directory", err)
	}

	artifacts := []ArtifactFile{}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		parsed, err := ParseArtifactName(entry.Name(), time.Local)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, ArtifactFile{
			Name:        entry.Name(),
			Size:        info.Size(),
			Modified:    info.ModTime(),
			Type:        parsed.Type,
			Schedule:    parsed.Schedule,
			Compression: parsed.Compression,
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].Modified.Equal(artifacts[j].Modified) {
			return artifacts[i].Name > artifacts[j].Name
		}
		return artifacts[i].Modified.After(artifacts[j].Modified)
	})
	return artifacts, nil
}
