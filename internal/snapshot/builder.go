package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"lims-backup/internal/database"
	"lims-backup/internal/errors"
	"lims-backup/internal/logging"
)

// DefaultSettingsTables is captured by a settings snapshot when none are configured.
var DefaultSettingsTables = []string{"settings"}

// Options controls what a Builder captures.
type Options struct {
	Type           Type
	DatabaseName   string
	CreatedBy      string
	FileRoot       string
	SettingsTables []string
}

// BuildResult summarizes a streamed snapshot.
type BuildResult struct {
	Tables      int
	Rows        int
	TableErrors int
	Files       int
	TotalSize   int64
}

// Builder captures tables and files into a Manifest. A table that cannot be read
// is recorded with an error and no rows; the build continues with the others.
type Builder struct {
	q      database.Queryer
	opts   Options
	logger *logging.Logger
	now    func() time.Time
}

// NewBuilder creates a builder reading tables through q.
func NewBuilder(q database.Queryer, opts Options, logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.Type == "" {
		opts.Type = TypeFull
	}
	if opts.Type == TypeSettings && len(opts.SettingsTables) == 0 {
		opts.SettingsTables = DefaultSettingsTables
	}
	return &Builder{q: q, opts: opts, logger: logger, now: time.Now}
}

// Build captures the snapshot into memory.
func (b *Builder) Build(ctx context.Context) (*Manifest, error) {
	m := b.header()
	m.Tables = make(map[string]*TableSnapshot)

	err := b.eachTable(ctx, func(t *TableSnapshot) error {
		m.Tables[t.Name] = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b.includesFiles() {
		m.Files = []FileEntry{}
		err = b.eachFile(ctx, func(f FileEntry) error {
			m.Files = append(m.Files, f)
			m.FileCount++
			m.TotalSize += f.Size
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WriteTo streams the snapshot to w as indented JSON, holding at most one table
// or one file in memory at a time. The document decodes to the same Manifest that
// Build returns.
func (b *Builder) WriteTo(ctx context.Context, w io.Writer) (*BuildResult, error) {
	bw := bufio.NewWriterSize(w, 256*1024)
	jw := &jsonWriter{w: bw}
	result := &BuildResult{}

	m := b.header()
	jw.raw("{\n")
	jw.field("  ", "version", m.Version, true)
	jw.field("  ", "created_at", m.CreatedAt, true)
	jw.field("  ", "created_by", m.CreatedBy, true)
	jw.field("  ", "database_name", m.DatabaseName, true)
	jw.raw(`  "tables": {`)

	err := b.eachTable(ctx, func(t *TableSnapshot) error {
		if result.Tables > 0 {
			jw.raw(",")
		}
		jw.raw("\n    ")
		jw.value("", t.Name)
		jw.raw(": ")
		jw.value("    ", t)

		result.Tables++
		result.Rows += t.RowCount
		if t.Error != "" {
			result.TableErrors++
		}
		return jw.err
	})
	if err != nil {
		return nil, b.streamError(jw, err)
	}
	if result.Tables > 0 {
		jw.raw("\n  ")
	}
	jw.raw("}")

	if b.includesFiles() {
		jw.raw(",\n  \"files\": [")
		err = b.eachFile(ctx, func(f FileEntry) error {
			if result.Files > 0 {
				jw.raw(",")
			}
			jw.raw("\n    ")
			jw.value("    ", f)

			result.Files++
			result.TotalSize += f.Size
			return jw.err
		})
		if err != nil {
			return nil, b.streamError(jw, err)
		}
		if result.Files > 0 {
			jw.raw("\n  ")
		}
		jw.raw("],\n")
		jw.field("  ", "file_count", result.Files, true)
		jw.field("  ", "total_size", result.TotalSize, false)
	} else {
		jw.raw("\n")
	}
	jw.raw("}\n")

	if jw.err != nil {
		return nil, errors.NewIOError("failed to write snapshot", jw.err)
	}
	if err := bw.Flush(); err != nil {
		return nil, errors.NewIOError("failed to write snapshot", err)
	}
	return result, nil
}

func (b *Builder) streamError(jw *jsonWriter, err error) error {
	if jw.err != nil && err == jw.err {
		return errors.NewIOError("failed to write snapshot", err)
	}
	return err
}

func (b *Builder) header() *Manifest {
	m := &Manifest{
		Version:      ManifestVersion,
		CreatedAt:    NewTimestamp(b.now().UTC()),
		DatabaseName: b.opts.DatabaseName,
	}
	if b.opts.CreatedBy != "" {
		createdBy := b.opts.CreatedBy
		m.CreatedBy = &createdBy
	}
	return m
}

func (b *Builder) includesFiles() bool {
	return b.opts.Type == TypeFull && b.opts.FileRoot != ""
}

func (b *Builder) tables(ctx context.Context) ([]string, error) {
	if b.opts.Type == TypeSettings {
		return b.opts.SettingsTables, nil
	}
	tables, err := database.ListTables(ctx, b.q)
	if err != nil {
		return nil, errors.WrapError(err, "failed to enumerate tables")
	}
	return tables, nil
}

func (b *Builder) eachTable(ctx context.Context, fn func(*TableSnapshot) error) error {
	tables, err := b.tables(ctx)
	if err != nil {
		return err
	}
	for _, name := range tables {
		if err := ctx.Err(); err != nil {
			return errors.NewAppError(errors.ErrorTypeInterruption, "snapshot cancelled", err)
		}
		t := b.captureTable(ctx, name)
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) captureTable(ctx context.Context, name string) *TableSnapshot {
	t := &TableSnapshot{Name: name, Rows: []map[string]any{}}

	structure, err := database.ShowCreateTable(ctx, b.q, name)
	if err != nil {
		t.Error = err.Error()
		b.logger.LogSnapshotTable(name, 0, err)
		return t
	}
	t.Structure = structure

	columns, rows, err := database.FetchTable(ctx, b.q, name)
	if err != nil {
		t.Error = err.Error()
		b.logger.LogSnapshotTable(name, 0, err)
		return t
	}

	for _, values := range rows {
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = EncodeValue(values[i])
		}
		t.Rows = append(t.Rows, row)
	}
	t.RowCount = len(t.Rows)
	b.logger.LogSnapshotTable(name, t.RowCount, nil)
	return t
}

func (b *Builder) eachFile(ctx context.Context, fn func(FileEntry) error) error {
	root := b.opts.FileRoot
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			b.logger.WithField("root", root).Warn("File root does not exist, no files captured")
			return nil
		}
		return errors.NewIOError("failed to access file root", err)
	}

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			b.logger.WithFields(map[string]interface{}{"path": p, "error": walkErr.Error()}).Warn("Skipping unreadable path")
			if d != nil && d.IsDir() && p != root {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errors.NewAppError(errors.ErrorTypeInterruption, "snapshot cancelled", err)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			b.logger.WithFields(map[string]interface{}{"path": rel, "error": err.Error()}).Warn("Skipping unreadable file")
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			b.logger.WithFields(map[string]interface{}{"path": rel, "error": err.Error()}).Warn("Skipping unreadable file")
			return nil
		}

		return fn(NewFileEntry(filepath.ToSlash(rel), data, info.ModTime()))
	})
}

// jsonWriter keeps the first write error and turns later writes into no-ops.
type jsonWriter struct {
	w   io.Writer
	err error
}

func (j *jsonWriter) raw(s string) {
	if j.err != nil {
		return
	}
	_, j.err = io.WriteString(j.w, s)
}

func (j *jsonWriter) value(prefix string, v any) {
	if j.err != nil {
		return
	}
	data, err := json.MarshalIndent(v, prefix, "  ")
	if err != nil {
		j.err = err
		return
	}
	_, j.err = j.w.Write(data)
}

func (j *jsonWriter) field(indent, key string, v any, more bool) {
	j.raw(indent)
	j.value("", key)
	j.raw(": ")
	j.value(indent, v)
	if more {
		j.raw(",\n")
	} else {
		j.raw("\n")
	}
}
