package reclaim

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/lib/pq"

	"github.com/datachat-io/datachat/pkg/session"
)

// databaseNamePattern is the only identifier shape the reclaimer will drop.
// The provisioner derives names from session IDs with this exact alphabet;
// anything else in the field map is untrusted and refused.
var databaseNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// DatabaseReclaimer drops the per-session temporary database named by the
// database_id field. It runs against the administrative connection (the
// postgres maintenance database), never against the target database itself:
// a database cannot drop itself while connected.
type DatabaseReclaimer struct {
	admin *sql.DB
}

// NewDatabaseReclaimer creates a reclaimer over the administrative
// connection.
func NewDatabaseReclaimer(admin *sql.DB) *DatabaseReclaimer {
	return &DatabaseReclaimer{admin: admin}
}

// Name identifies the reclaimer in logs.
func (*DatabaseReclaimer) Name() string {
	return "database"
}

// Reclaim checks for the database, terminates every open connection to it,
// and drops it. A missing field or an already-dropped database is success.
func (r *DatabaseReclaimer) Reclaim(ctx context.Context, fields map[string]string) error {
	name := fields[session.FieldDatabaseID]
	if name == "" {
		return nil
	}
	if !databaseNamePattern.MatchString(name) {
		return fmt.Errorf("refusing to drop database with unexpected name %q", name)
	}

	var exists int
	err := r.admin.QueryRowContext(ctx,
		`SELECT 1 FROM pg_database WHERE datname = $1`, name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking database %s: %w", name, err)
	}

	_, err = r.admin.ExecContext(ctx, `
		SELECT pg_terminate_backend(pg_stat_activity.pid)
		FROM pg_stat_activity
		WHERE pg_stat_activity.datname = $1
		AND pid <> pg_backend_pid()`, name)
	if err != nil {
		return fmt.Errorf("terminating connections to %s: %w", name, err)
	}

	// DROP DATABASE does not take bind parameters; the identifier is quoted
	// after the shape check above.
	_, err = r.admin.ExecContext(ctx, "DROP DATABASE "+pq.QuoteIdentifier(name))
	if err != nil {
		return fmt.Errorf("dropping database %s: %w", name, err)
	}
	return nil
}

// Verify interface compliance.
var _ Reclaimer = (*DatabaseReclaimer)(nil)
