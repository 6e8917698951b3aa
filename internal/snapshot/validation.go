package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"lims-backup/internal/errors"
)

// Decode reads a manifest from r. Numbers are kept as json.Number so integer
// columns survive without float rounding.
func Decode(r io.Reader) (*Manifest, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, errors.NewFormatError("backup data is not a valid manifest", err)
	}
	return &m, nil
}

// DecodeBytes is Decode over an in-memory document.
func DecodeBytes(data []byte) (*Manifest, error) {
	return Decode(bytes.NewReader(data))
}

// Validate checks the fields a restore depends on. Problems that do not prevent
// a restore are returned as warnings.
func Validate(m *Manifest) (warnings []string, err error) {
	if m == nil {
		return nil, errors.NewFormatError("backup data is missing", nil)
	}
	if m.Version == "" {
		return nil, errors.NewFormatError("invalid backup format: missing version", nil)
	}
	if m.Version != ManifestVersion {
		return nil, errors.NewFormatError(fmt.Sprintf("unsupported backup version %q", m.Version), nil)
	}
	if m.Tables == nil {
		return nil, errors.NewFormatError("invalid backup format: missing tables", nil)
	}

	for key, t := range m.Tables {
		if t == nil {
			return nil, errors.NewFormatError(fmt.Sprintf("table %q has no content", key), nil)
		}
		if t.Name == "" {
			t.Name = key
		}
		if t.Name != key {
			return nil, errors.NewFormatError(fmt.Sprintf("table entry %q is named %q", key, t.Name), nil)
		}
		if t.RowCount != len(t.Rows) {
			warnings = append(warnings, fmt.Sprintf("table %s: row_count %d does not match %d rows", key, t.RowCount, len(t.Rows)))
		}
		if t.Error != "" {
			warnings = append(warnings, fmt.Sprintf("table %s was captured with an error: %s", key, t.Error))
		}
	}

	if !m.CreatedAt.Valid() {
		warnings = append(warnings, fmt.Sprintf("created_at %q is not a recognized time", m.CreatedAt.raw))
	}
	for _, f := range m.Files {
		if !f.Modified.Valid() {
			warnings = append(warnings, fmt.Sprintf("file %s: modified %q is not a recognized time; the current time is kept", f.Path, f.Modified.raw))
		}
	}

	if m.FileCount != 0 && m.FileCount != len(m.Files) {
		warnings = append(warnings, fmt.Sprintf("file_count %d does not match %d files", m.FileCount, len(m.Files)))
	}
	return warnings, nil
}
