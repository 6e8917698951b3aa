// Package snapshot captures a database and its file tree into a self-describing
// JSON manifest and restores that manifest onto a target.
package snapshot

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"lims-backup/internal/errors"
)

// ManifestVersion is the format version written into every manifest.
const ManifestVersion = "1.0"

// Type selects which parts of the system a manifest captures.
type Type string

const (
	// TypeFull captures every table and the file tree.
	TypeFull Type = "full"
	// TypeDatabase captures every table and no files.
	TypeDatabase Type = "database"
	// TypeSettings captures only the configured settings tables.
	TypeSettings Type = "settings"
)

// ParseType validates a backup type name.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeFull, TypeDatabase, TypeSettings:
		return t, nil
	case "":
		return TypeFull, nil
	default:
		return "", errors.NewValidationError(fmt.Sprintf("unknown backup type %q", s), nil)
	}
}

// timestampLayouts are tried in order. Layouts without a zone are read as
// server local time.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
}

// Timestamp is a manifest time. It accepts RFC 3339 and MySQL DATETIME text;
// anything else is kept verbatim so the manifest still decodes, and Valid
// reports false.
type Timestamp struct {
	time.Time
	raw string
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// Valid reports whether the value was parsed as a time.
func (ts Timestamp) Valid() bool {
	return ts.raw == ""
}

// Format formats the time with layout, or returns the original text of an
// unparsed value.
func (ts Timestamp) Format(layout string) string {
	if ts.raw != "" {
		return ts.raw
	}
	return ts.Time.Format(layout)
}

// MarshalJSON writes RFC 3339, or the original text of an unparsed value.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.raw != "" {
		return json.Marshal(ts.raw)
	}
	return ts.Time.MarshalJSON()
}

// UnmarshalJSON never fails on the value itself; unparseable text is kept.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	*ts = Timestamp{}
	if string(data) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		ts.raw = string(data)
		return nil
	}
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			ts.Time = t
			return nil
		}
	}
	ts.raw = s
	return nil
}

// Manifest is a complete point-in-time capture of tables and, optionally, files.
type Manifest struct {
	Version      string                    `json:"version"`
	CreatedAt    Timestamp                 `json:"created_at"`
	CreatedBy    *string                   `json:"created_by"`
	DatabaseName string                    `json:"database_name"`
	Tables       map[string]*TableSnapshot `json:"tables"`
	Files        []FileEntry               `json:"files,omitempty"`
	FileCount    int                       `json:"file_count,omitempty"`
	TotalSize    int64                     `json:"total_size,omitempty"`
}

// TableSnapshot holds the structure and rows of one table. Error is set when the
// table could not be captured, in which case Rows is empty.
type TableSnapshot struct {
	Name      string           `json:"name"`
	Structure string           `json:"structure"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Error     string           `json:"error,omitempty"`
}

// BinaryKey tags a row value holding base64-encoded bytes that are not valid
// UTF-8 and so cannot be stored as a JSON string.
const BinaryKey = "$binary"

// EncodeValue converts a scanned column value into its manifest form. Text
// becomes a string; binary data becomes {"$binary": "<base64>"}.
func EncodeValue(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return map[string]string{BinaryKey: base64.StdEncoding.EncodeToString(b)}
}

// DecodeBinary returns the bytes of a tagged binary value. ok is false when v is
// not a tagged value.
func DecodeBinary(v any) (data []byte, ok bool, err error) {
	var encoded any
	switch val := v.(type) {
	case map[string]any:
		if len(val) != 1 {
			return nil, false, nil
		}
		encoded, ok = val[BinaryKey]
	case map[string]string:
		if len(val) != 1 {
			return nil, false, nil
		}
		encoded, ok = val[BinaryKey]
	}
	if !ok {
		return nil, false, nil
	}
	s, isString := encoded.(string)
	if !isString {
		return nil, true, errors.NewFormatError(fmt.Sprintf("%s value must be a string", BinaryKey), nil)
	}
	data, err = base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, true, errors.NewFormatError(fmt.Sprintf("invalid %s value", BinaryKey), err)
	}
	return data, true, nil
}

// FileEntry is one regular file of the captured file tree.
type FileEntry struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified Timestamp `json:"modified"`
	Content  string    `json:"content"`
}

// NewFileEntry encodes data as a FileEntry at the slash-separated relative path.
func NewFileEntry(relPath string, data []byte, modified time.Time) FileEntry {
	return FileEntry{
		Path:     relPath,
		Size:     int64(len(data)),
		Modified: NewTimestamp(modified.UTC()),
		Content:  base64.StdEncoding.EncodeToString(data),
	}
}

// Decode returns the raw bytes of the entry, checking them against Size.
func (f FileEntry) Decode() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(f.Content)
	if err != nil {
		return nil, errors.NewFormatError(fmt.Sprintf("invalid content for %s", f.Path), err)
	}
	if int64(len(data)) != f.Size {
		return nil, errors.NewFormatError(
			fmt.Sprintf("size mismatch for %s: manifest says %d bytes, content has %d", f.Path, f.Size, len(data)), nil)
	}
	return data, nil
}

// ValidatePath rejects absolute paths and paths escaping the file root.
func ValidatePath(p string) error {
	if p == "" {
		return errors.NewFormatError("empty file path", nil)
	}
	if strings.HasPrefix(p, "/") {
		return errors.NewFormatError(fmt.Sprintf("file path %q must be relative", p), nil)
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return errors.NewFormatError(fmt.Sprintf("file path %q escapes the file root", p), nil)
		}
	}
	if path.Clean(p) == "." {
		return errors.NewFormatError(fmt.Sprintf("file path %q names the root", p), nil)
	}
	return nil
}

// TableNames returns the manifest's table names in restore order.
func (m *Manifest) TableNames() []string {
	names := make([]string, 0, len(m.Tables))
	for name := range m.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary reports the number of tables and total rows in the manifest.
func (m *Manifest) Summary() (tables int, rows int) {
	for _, t := range m.Tables {
		rows += len(t.Rows)
	}
	return len(m.Tables), rows
}
