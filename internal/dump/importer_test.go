package dump

import (
	"context"
	"errors"
	"strings"
	"testing"

	appErrors "lims-backup/internal/errors"
	"lims-backup/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAudit struct {
	actions []string
	err     error
}

func (r *recordingAudit) Record(ctx context.Context, action, details string) error {
	r.actions = append(r.actions, action)
	return r.err
}

func TestImporter_Success(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	script := `-- exported by mysqldump
SET NAMES utf8mb4;
LOCK TABLES samples WRITE;
INSERT INTO samples VALUES (1, 'a;b');
UNLOCK TABLES;
UPDATE samples SET code = 'x' WHERE id = 1;`

	mock.ExpectExec("SET FOREIGN_KEY_CHECKS=0").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO samples VALUES (1, 'a;b')").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE samples SET code = 'x' WHERE id = 1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("SET FOREIGN_KEY_CHECKS=1").WillReturnResult(sqlmock.NewResult(0, 0))

	audit := &recordingAudit{}
	result, err := NewImporter(logging.NewNopLogger(), audit).Import(context.Background(), db, strings.NewReader(script))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Executed)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, []string{"sql_import"}, audit.actions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImporter_AuditFailureIsSwallowed(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("SET FOREIGN_KEY_CHECKS=0").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM samples").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()
	mock.ExpectExec("SET FOREIGN_KEY_CHECKS=1").WillReturnResult(sqlmock.NewResult(0, 0))

	audit := &recordingAudit{err: errors.New("no audit table")}
	_, err = NewImporter(logging.NewNopLogger(), audit).Import(context.Background(), db, strings.NewReader("DELETE FROM samples;"))
	assert.NoError(t, err)
	assert.Len(t, audit.actions, 1)
}

func TestImporter_StopsAtFirstFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	longValue := strings.Repeat("x", 300)
	script := "CREATE TABLE a (id INT);\nINSERT INTO a VALUES (1);\n\nINSERT INTO missing VALUES ('" + longValue + "');\nINSERT INTO a VALUES (2);"

	mock.ExpectExec("SET FOREIGN_KEY_CHECKS=0").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a (id INT)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO a VALUES (1)").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO missing VALUES ('" + longValue + "')").WillReturnError(errors.New("Table 'lims.missing' doesn't exist"))
	mock.ExpectRollback()
	mock.ExpectExec("SET FOREIGN_KEY_CHECKS=1").WillReturnResult(sqlmock.NewResult(0, 0))

	audit := &recordingAudit{}
	_, err = NewImporter(logging.NewNopLogger(), audit).Import(context.Background(), db, strings.NewReader(script))
	require.Error(t, err)

	var stmtErr *appErrors.StatementError
	require.True(t, errors.As(err, &stmtErr))
	assert.Equal(t, 4, stmtErr.Line)
	assert.Len(t, stmtErr.Preview, appErrors.PreviewLength+len("..."))
	assert.True(t, strings.HasPrefix(stmtErr.Preview, "INSERT INTO missing VALUES ('xxx"))
	assert.True(t, appErrors.IsInconsistent(err), "statements already ran before the failure")

	assert.Empty(t, audit.actions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImporter_FirstStatementFailureIsConsistent(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("SET FOREIGN_KEY_CHECKS=0").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE nope").WillReturnError(errors.New("Unknown table"))
	mock.ExpectRollback()
	mock.ExpectExec("SET FOREIGN_KEY_CHECKS=1").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = NewImporter(logging.NewNopLogger(), nil).Import(context.Background(), db, strings.NewReader("\n\nDROP TABLE nope;"))
	require.Error(t, err)

	assert.False(t, appErrors.IsInconsistent(err))
	assert.Equal(t, appErrors.ErrorTypeStatement, appErrors.GetErrorType(err))

	var stmtErr *appErrors.StatementError
	require.True(t, errors.As(err, &stmtErr))
	assert.Equal(t, 3, stmtErr.Line)
	assert.Equal(t, "DROP TABLE nope", stmtErr.Preview)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImporter_ForeignKeyToggleFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("SET FOREIGN_KEY_CHECKS=0").WillReturnError(errors.New("server has gone away"))

	_, err = NewImporter(logging.NewNopLogger(), nil).Import(context.Background(), db, strings.NewReader("SELECT 1;"))
	assert.Error(t, err)
	assert.False(t, appErrors.IsInconsistent(err))
}
