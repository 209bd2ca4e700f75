// Package tempdb provisions per-session temporary databases. Each session
// that uploads tabular data gets its own database, named after the session
// identifier, created on demand and reclaimed when the session ends or
// expires.
package tempdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// sessionIDPattern is the accepted shape of a session identifier after dash
// replacement. Session IDs come from client cookies and must never reach an
// SQL identifier position unvalidated.
var sessionIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Config configures the provisioner.
type Config struct {
	// Prefix is prepended to the derived database name,
	// e.g. "temporary_database_".
	Prefix string

	// DSNBase is the connection string base for per-database connections,
	// without a database name, e.g. "postgres://app:secret@db:5432".
	DSNBase string

	// DSNParams holds trailing connection parameters, e.g. "sslmode=disable".
	DSNParams string
}

// Provisioner creates and inspects per-session temporary databases using the
// administrative connection, plus short-lived per-database connections for
// table-level operations.
type Provisioner struct {
	admin   *sql.DB
	cfg     Config
	connect func(dbName string) (*sql.DB, error)
}

// NewProvisioner creates a provisioner over the administrative connection.
func NewProvisioner(admin *sql.DB, cfg Config) *Provisioner {
	p := &Provisioner{
		admin: admin,
		cfg:   cfg,
	}
	p.connect = func(dbName string) (*sql.DB, error) {
		dsn := cfg.DSNBase + "/" + dbName
		if cfg.DSNParams != "" {
			dsn += "?" + cfg.DSNParams
		}
		return sql.Open("postgres", dsn)
	}
	return p
}

// DatabaseName derives the temporary database name for a session identifier.
// Dashes become underscores (UUIDs contain dashes, SQL identifiers must not);
// any other character outside the accepted alphabet is refused.
func (p *Provisioner) DatabaseName(sessionID string) (string, error) {
	safe := strings.ReplaceAll(strings.ToLower(sessionID), "-", "_")
	if !sessionIDPattern.MatchString(safe) {
		return "", fmt.Errorf("session id %q cannot name a database", sessionID)
	}
	return p.cfg.Prefix + safe, nil
}

// Ensure creates the session's temporary database if it does not already
// exist. It returns the database name and whether this call created it.
func (p *Provisioner) Ensure(ctx context.Context, sessionID string) (string, bool, error) {
	name, err := p.DatabaseName(sessionID)
	if err != nil {
		return "", false, err
	}

	var exists int
	err = p.admin.QueryRowContext(ctx,
		`SELECT 1 FROM pg_database WHERE datname = $1`, name).Scan(&exists)
	if err == nil {
		return name, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("checking database %s: %w", name, err)
	}

	// CREATE DATABASE does not take bind parameters; the name is built from
	// the validated identifier above.
	if _, err := p.admin.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		return "", false, fmt.Errorf("creating database %s: %w", name, err)
	}
	return name, true, nil
}

// Tables lists the public-schema tables of a temporary database.
func (p *Provisioner) Tables(ctx context.Context, dbName string) ([]string, error) {
	db, err := p.connect(dbName)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", dbName, err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx,
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public'`)
	if err != nil {
		return nil, fmt.Errorf("listing tables in %s: %w", dbName, err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tables: %w", err)
	}
	return tables, nil
}

// ClearTables drops every public-schema table in a temporary database,
// leaving the database itself in place. Used by the clear-session flow so a
// client can start over without re-provisioning.
func (p *Provisioner) ClearTables(ctx context.Context, dbName string) error {
	tables, err := p.Tables(ctx, dbName)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		return nil
	}

	db, err := p.connect(dbName)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", dbName, err)
	}
	defer func() { _ = db.Close() }()

	for _, table := range tables {
		stmt := "DROP TABLE IF EXISTS " + pq.QuoteIdentifier(table) + " CASCADE"
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dropping table %s in %s: %w", table, dbName, err)
		}
	}
	return nil
}
