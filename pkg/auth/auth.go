// Package auth provides user account registration and credential
// verification against the user database.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/crypto/bcrypt"
)

var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var (
	// ErrEmailTaken indicates a registration attempt with an e-mail that
	// already has an account.
	ErrEmailTaken = errors.New("e-mail already registered")

	// ErrInvalidCredentials indicates a failed login. The caller must not
	// reveal whether the e-mail or the password was wrong.
	ErrInvalidCredentials = errors.New("incorrect e-mail or password")
)

// User is a registered account.
type User struct {
	ID        int64
	Email     string
	CreatedAt time.Time
}

// Store manages user accounts in the user database.
type Store struct {
	db   *sql.DB
	cost int
}

// NewStore creates a user store. A bcryptCost of 0 selects the bcrypt
// default.
func NewStore(db *sql.DB, bcryptCost int) *Store {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Store{
		db:   db,
		cost: bcryptCost,
	}
}

// Register creates a new account. Returns ErrEmailTaken when the e-mail is
// already registered.
func (s *Store) Register(ctx context.Context, email, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	query, args, err := psq.
		Select("1").
		From("users").
		Where(sq.Eq{"email": email}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user lookup: %w", err)
	}

	var exists int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&exists)
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checking e-mail: %w", err)
	}

	query, args, err = psq.
		Insert("users").
		Columns("email", "password_hash").
		Values(email, string(hash)).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user insert: %w", err)
	}

	user := &User{Email: email}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&user.ID, &user.CreatedAt); err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return user, nil
}

// Authenticate verifies a credential pair and returns the matching user.
// Both an unknown e-mail and a wrong password yield ErrInvalidCredentials.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*User, error) {
	query, args, err := psq.
		Select("id", "email", "password_hash", "created_at").
		From("users").
		Where(sq.Eq{"email": email}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user lookup: %w", err)
	}

	var (
		user User
		hash string
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&user.ID, &user.Email, &hash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}
