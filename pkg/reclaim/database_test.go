package reclaim

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datachat-io/datachat/pkg/session"
)

const dbTestName = "temporary_database_abc_123"

func newMockReclaimer(t *testing.T) (*DatabaseReclaimer, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewDatabaseReclaimer(db), mock
}

func expectExistenceCheck(mock sqlmock.Sqlmock, name string, exists bool) {
	q := mock.ExpectQuery(`SELECT 1 FROM pg_database WHERE datname = \$1`).
		WithArgs(name)
	if exists {
		q.WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	} else {
		q.WillReturnError(sql.ErrNoRows)
	}
}

func TestDatabaseReclaimer_DropsExistingDatabase(t *testing.T) {
	r, mock := newMockReclaimer(t)

	expectExistenceCheck(mock, dbTestName, true)
	mock.ExpectExec(`SELECT pg_terminate_backend`).
		WithArgs(dbTestName).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP DATABASE "` + dbTestName + `"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := r.Reclaim(context.Background(), map[string]string{session.FieldDatabaseID: dbTestName})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseReclaimer_AlreadyGoneIsSuccess(t *testing.T) {
	r, mock := newMockReclaimer(t)

	expectExistenceCheck(mock, dbTestName, false)

	err := r.Reclaim(context.Background(), map[string]string{session.FieldDatabaseID: dbTestName})
	require.NoError(t, err, "deleting an already-deleted database is success")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseReclaimer_IdempotentAcrossInvocations(t *testing.T) {
	r, mock := newMockReclaimer(t)
	fields := map[string]string{session.FieldDatabaseID: dbTestName}

	expectExistenceCheck(mock, dbTestName, true)
	mock.ExpectExec(`SELECT pg_terminate_backend`).
		WithArgs(dbTestName).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP DATABASE "` + dbTestName + `"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectExistenceCheck(mock, dbTestName, false)

	require.NoError(t, r.Reclaim(context.Background(), fields))
	require.NoError(t, r.Reclaim(context.Background(), fields))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseReclaimer_NoFieldIsNoOp(t *testing.T) {
	r, mock := newMockReclaimer(t)

	err := r.Reclaim(context.Background(), map[string]string{session.FieldIndexPath: "/vs/abc"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet(), "no queries for a session without a database")
}

func TestDatabaseReclaimer_RefusesSuspiciousNames(t *testing.T) {
	r, mock := newMockReclaimer(t)

	for _, name := range []string{
		"Robert'); DROP TABLE users;--",
		"has space",
		"UPPER_CASE",
		"0starts_with_digit",
	} {
		err := r.Reclaim(context.Background(), map[string]string{session.FieldDatabaseID: name})
		assert.Error(t, err, "name %q must be refused", name)
	}
	require.NoError(t, mock.ExpectationsWereMet(), "refused names never reach the database")
}

func TestDatabaseReclaimer_ReportsDropFailure(t *testing.T) {
	r, mock := newMockReclaimer(t)

	expectExistenceCheck(mock, dbTestName, true)
	mock.ExpectExec(`SELECT pg_terminate_backend`).
		WithArgs(dbTestName).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP DATABASE`).
		WillReturnError(errors.New("permission denied"))

	err := r.Reclaim(context.Background(), map[string]string{session.FieldDatabaseID: dbTestName})
	require.Error(t, err, "the runner logs and swallows this; the reclaimer itself stays honest")
}
