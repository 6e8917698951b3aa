package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lims-backup/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var buildTime = time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)

func newTestBuilder(t *testing.T, mock func(sqlmock.Sqlmock), opts Options) *Builder {
	t.Helper()
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock(m)

	b := NewBuilder(db, opts, logging.NewNopLogger())
	b.now = func() time.Time { return buildTime }
	return b
}

// expectPartialFailure primes two tables where the second one's data read fails.
func expectPartialFailure(m sqlmock.Sqlmock) {
	m.ExpectQuery("SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'").
		WillReturnRows(sqlmock.NewRows([]string{"Tables_in_lims", "Table_type"}).AddRow("samples", "BASE TABLE").AddRow("instruments", "BASE TABLE"))

	m.ExpectQuery("SHOW CREATE TABLE `samples`").
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).AddRow("samples", "CREATE TABLE `samples` (`id` int, `code` varchar(8))"))
	m.ExpectQuery("SELECT \\* FROM `samples`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code"}).
			AddRow([]byte("1"), []byte("S-1")).
			AddRow([]byte("2"), nil))

	m.ExpectQuery("SHOW CREATE TABLE `instruments`").
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).AddRow("instruments", "CREATE TABLE `instruments` (`id` int)"))
	m.ExpectQuery("SELECT \\* FROM `instruments`").WillReturnError(errors.New("table is marked as crashed"))
}

func writeTree(t *testing.T, files map[string][]byte) string {
	t.Helper()
	root := t.TempDir()
	for rel, data := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, data, 0o644))
	}
	return root
}

func TestBuilder_PartialFailure(t *testing.T) {
	b := newTestBuilder(t, expectPartialFailure, Options{Type: TypeDatabase, DatabaseName: "lims"})

	m, err := b.Build(context.Background())
	require.NoError(t, err, "a failing table must not fail the build")

	assert.Equal(t, ManifestVersion, m.Version)
	assert.Equal(t, buildTime, m.CreatedAt.Time)
	assert.Nil(t, m.CreatedBy)
	require.Len(t, m.Tables, 2)

	samples := m.Tables["samples"]
	assert.Equal(t, 2, samples.RowCount)
	assert.Empty(t, samples.Error)
	assert.Equal(t, map[string]any{"id": "1", "code": "S-1"}, samples.Rows[0])
	assert.Nil(t, samples.Rows[1]["code"])

	instruments := m.Tables["instruments"]
	assert.Equal(t, 0, instruments.RowCount)
	assert.Empty(t, instruments.Rows)
	assert.NotNil(t, instruments.Rows, "rows must encode as an empty list")
	assert.Contains(t, instruments.Error, "crashed")
	assert.Equal(t, "CREATE TABLE `instruments` (`id` int)", instruments.Structure)

	assert.Nil(t, m.Files, "database snapshots carry no files")
}

func TestBuilder_StructureFailureRecorded(t *testing.T) {
	b := newTestBuilder(t, func(m sqlmock.Sqlmock) {
		m.ExpectQuery("SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'").WillReturnRows(sqlmock.NewRows([]string{"Tables_in_lims", "Table_type"}).AddRow("ghost", "BASE TABLE"))
		m.ExpectQuery("SHOW CREATE TABLE `ghost`").WillReturnError(errors.New("doesn't exist"))
	}, Options{Type: TypeDatabase})

	m, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, m.Tables["ghost"].Error)
	assert.Empty(t, m.Tables["ghost"].Structure)
}

func TestBuilder_ListTablesFailureIsFatal(t *testing.T) {
	b := newTestBuilder(t, func(m sqlmock.Sqlmock) {
		m.ExpectQuery("SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'").WillReturnError(errors.New("connection refused"))
	}, Options{})

	_, err := b.Build(context.Background())
	assert.Error(t, err)
}

func TestBuilder_SettingsType(t *testing.T) {
	b := newTestBuilder(t, func(m sqlmock.Sqlmock) {
		m.ExpectQuery("SHOW CREATE TABLE `settings`").
			WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).AddRow("settings", "CREATE TABLE `settings` (`k` varchar(32), `v` text)"))
		m.ExpectQuery("SELECT \\* FROM `settings`").
			WillReturnRows(sqlmock.NewRows([]string{"k", "v"}).AddRow([]byte("lab_name"), []byte("Central Lab")))
	}, Options{Type: TypeSettings, FileRoot: t.TempDir()})

	m, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Len(t, m.Tables, 1)
	assert.Equal(t, 1, m.Tables["settings"].RowCount)
	assert.Nil(t, m.Files, "settings snapshots ignore the file root")
}

func TestBuilder_Files(t *testing.T) {
	root := writeTree(t, map[string][]byte{
		"a/b.txt":            []byte("hello"),
		"certs/2024/c1.pdf":  {0x25, 0x50, 0x44, 0x46, 0x00, 0xff},
		"top.bin":            {},
		"a/nested/deep/x.md": []byte("# x"),
	})

	b := newTestBuilder(t, func(m sqlmock.Sqlmock) {
		m.ExpectQuery("SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'").WillReturnRows(sqlmock.NewRows([]string{"Tables_in_lims", "Table_type"}))
	}, Options{Type: TypeFull, FileRoot: root, CreatedBy: "7"})

	m, err := b.Build(context.Background())
	require.NoError(t, err)

	require.NotNil(t, m.CreatedBy)
	assert.Equal(t, "7", *m.CreatedBy)
	assert.Equal(t, 4, m.FileCount)
	assert.Equal(t, int64(5+6+0+3), m.TotalSize)

	byPath := map[string]FileEntry{}
	for _, f := range m.Files {
		byPath[f.Path] = f
	}
	require.Contains(t, byPath, "certs/2024/c1.pdf")
	data, err := byPath["certs/2024/c1.pdf"].Decode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff}, data)
	assert.Contains(t, byPath, "a/nested/deep/x.md")
}

func TestBuilder_MissingFileRoot(t *testing.T) {
	b := newTestBuilder(t, func(m sqlmock.Sqlmock) {
		m.ExpectQuery("SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'").WillReturnRows(sqlmock.NewRows([]string{"Tables_in_lims", "Table_type"}))
	}, Options{Type: TypeFull, FileRoot: filepath.Join(t.TempDir(), "absent")})

	m, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, m.Files)
}

func TestBuilder_WriteToMatchesBuild(t *testing.T) {
	root := writeTree(t, map[string][]byte{
		"a/b.txt": []byte("hello"),
		"c.bin":   {1, 2, 3},
	})
	opts := Options{Type: TypeFull, DatabaseName: "lims", FileRoot: root}

	built, err := newTestBuilder(t, expectPartialFailure, opts).Build(context.Background())
	require.NoError(t, err)
	builtJSON, err := json.MarshalIndent(built, "", "  ")
	require.NoError(t, err)
	want, err := DecodeBytes(builtJSON)
	require.NoError(t, err)

	var out bytes.Buffer
	result, err := newTestBuilder(t, expectPartialFailure, opts).WriteTo(context.Background(), &out)
	require.NoError(t, err)
	assert.True(t, json.Valid(out.Bytes()), "stream output must be valid JSON:\n%s", out.String())

	got, err := Decode(&out)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Equal(t, 2, result.Tables)
	assert.Equal(t, 2, result.Rows)
	assert.Equal(t, 1, result.TableErrors)
	assert.Equal(t, 2, result.Files)
	assert.Equal(t, int64(8), result.TotalSize)
}

func TestBuilder_WriteToWithoutFiles(t *testing.T) {
	var out bytes.Buffer
	b := newTestBuilder(t, func(m sqlmock.Sqlmock) {
		m.ExpectQuery("SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'").WillReturnRows(sqlmock.NewRows([]string{"Tables_in_lims", "Table_type"}))
	}, Options{Type: TypeDatabase})

	_, err := b.WriteTo(context.Background(), &out)
	require.NoError(t, err)

	m, err := Decode(&out)
	require.NoError(t, err)
	assert.Equal(t, ManifestVersion, m.Version)
	assert.NotNil(t, m.Tables)
	assert.Empty(t, m.Tables)
}

func TestBuilder_BinaryColumnRoundTrip(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0x00, 0x10}
	b := newTestBuilder(t, func(m sqlmock.Sqlmock) {
		m.ExpectQuery("SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'").
			WillReturnRows(sqlmock.NewRows([]string{"Tables_in_lims", "Table_type"}).AddRow("images", "BASE TABLE"))
		m.ExpectQuery("SHOW CREATE TABLE `images`").
			WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).AddRow("images", "CREATE TABLE `images` (`id` int, `data` blob)"))
		m.ExpectQuery("SELECT \\* FROM `images`").
			WillReturnRows(sqlmock.NewRows([]string{"id", "data"}).AddRow(1, jpeg))
	}, Options{Type: TypeDatabase})

	var out bytes.Buffer
	_, err := b.WriteTo(context.Background(), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"$binary": "/9j/ABA="`)

	m, err := Decode(&out)
	require.NoError(t, err)
	data, ok, err := DecodeBinary(m.Tables["images"].Rows[0]["data"])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, jpeg, data)

	restorer, mock, _ := newRestoreMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("SET FOREIGN_KEY_CHECKS=0").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'").
		WillReturnRows(sqlmock.NewRows([]string{"Tables_in_lims", "Table_type"}))
	mock.ExpectExec("CREATE TABLE `images` (`id` int, `data` blob)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `images` (`data`, `id`) VALUES (?, ?)").
		WithArgs(jpeg, "1").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("SET FOREIGN_KEY_CHECKS=1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	_, err = restorer.Restore(context.Background(), m)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEncodeValue(t *testing.T) {
	assert.Equal(t, "S-001", EncodeValue([]byte("S-001")))
	assert.Equal(t, "Zürich", EncodeValue([]byte("Zürich")))
	assert.Equal(t, map[string]string{BinaryKey: "/wA="}, EncodeValue([]byte{0xff, 0x00}))
	assert.Equal(t, int64(7), EncodeValue(int64(7)))
	assert.Nil(t, EncodeValue(nil))
}
