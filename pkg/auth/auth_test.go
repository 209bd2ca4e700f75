package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	authTestEmail    = "user@example.com"
	authTestPassword = "correct horse battery staple"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewStore(db, bcrypt.MinCost), mock
}

func TestRegister_CreatesAccount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT 1 FROM users WHERE email = \$1`).
		WithArgs(authTestEmail).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO users \(email,password_hash\) VALUES \(\$1,\$2\) RETURNING id, created_at`).
		WithArgs(authTestEmail, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), time.Now()))

	user, err := store.Register(context.Background(), authTestEmail, authTestPassword)
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, authTestEmail, user.Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_DuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT 1 FROM users WHERE email = \$1`).
		WithArgs(authTestEmail).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	_, err := store.Register(context.Background(), authTestEmail, authTestPassword)
	require.ErrorIs(t, err, ErrEmailTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func userRow(t *testing.T, password string) *sqlmock.Rows {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
		AddRow(int64(7), authTestEmail, string(hash), time.Now())
}

func TestAuthenticate_ValidCredentials(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, email, password_hash, created_at FROM users WHERE email = \$1`).
		WithArgs(authTestEmail).
		WillReturnRows(userRow(t, authTestPassword))

	user, err := store.Authenticate(context.Background(), authTestEmail, authTestPassword)
	require.NoError(t, err)
	assert.Equal(t, authTestEmail, user.Email)
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, email, password_hash, created_at FROM users WHERE email = \$1`).
		WithArgs(authTestEmail).
		WillReturnRows(userRow(t, authTestPassword))

	_, err := store.Authenticate(context.Background(), authTestEmail, "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_UnknownEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, email, password_hash, created_at FROM users WHERE email = \$1`).
		WithArgs(authTestEmail).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Authenticate(context.Background(), authTestEmail, authTestPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials,
		"unknown e-mail and wrong password must be indistinguishable")
}
