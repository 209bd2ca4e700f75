// Package session provides the session-scoped resource lifecycle core:
// the Store interface for TTL-backed session persistence, the Manager that
// request handlers use to create and mutate sessions, and the Listener that
// reacts to store-side expirations by reclaiming per-session resources.
package session

import (
	"context"
	"strings"
	"time"
)

// KeyPrefix namespaces session records in the backing store. Every key under
// this prefix is treated as a session key by the expiration Listener; the
// store may host unrelated keys outside it.
const KeyPrefix = "session:"

// Well-known field keys written by collaborators. Absence of a key means the
// resource has not been created yet, not an error.
const (
	// FieldDatabaseID is the identifier of the per-session temporary database.
	FieldDatabaseID = "database_id"

	// FieldIndexPath is the storage path of the per-session vector index.
	FieldIndexPath = "index_path"

	// FieldOwnerIdentity is the authenticated owner (e.g. an e-mail address).
	FieldOwnerIdentity = "owner_identity"

	// FieldProgress is the upload pipeline's progress as an integer string,
	// 0-100, or -1 on failure.
	FieldProgress = "progress"
)

// Record is a session as held by the store: an opaque identifier, the
// creation timestamp, and a flat string field map holding the identifiers of
// every resource the session owns.
type Record struct {
	ID        string
	CreatedAt time.Time
	Fields    map[string]string
}

// Expiration is one event from a store's expiration feed. Key is the raw
// store key (including prefix). Fields is the last-known field map when the
// store can capture it at eviction time; a nil Fields means the consumer must
// read the map back itself, accepting that it may already be gone.
type Expiration struct {
	Key    string
	Fields map[string]string
}

// SessionID extracts the session identifier from an expiration's key.
// It returns false when the key is not in the session namespace.
func (e Expiration) SessionID() (string, bool) {
	if !strings.HasPrefix(e.Key, KeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(e.Key, KeyPrefix), true
}

// Feed is a stream of expiration events from the store.
type Feed interface {
	// Next blocks until the next expiration event or ctx is done. A non-nil
	// error means the feed is broken and must be re-established with a fresh
	// Subscribe call.
	Next(ctx context.Context) (Expiration, error)

	// Close releases the subscription.
	Close() error
}

// Store defines the interface for session persistence. Implementations must
// be safe for concurrent use; the store connection is the only shared
// resource in this design.
type Store interface {
	// Create persists a new record with the given TTL. The collision check
	// and the write are atomic; an existing record with the same ID yields
	// ErrDuplicateID.
	Create(ctx context.Context, rec *Record, ttl time.Duration) error

	// Fetch retrieves a record by ID and resets its TTL to the full window
	// (sliding expiration). Returns ErrNotFound for a missing or expired
	// session.
	Fetch(ctx context.Context, id string, ttl time.Duration) (*Record, error)

	// SetField upserts one field and resets the TTL. Returns ErrNotFound when
	// the session no longer exists, so callers never believe they persisted
	// data into a dead session.
	SetField(ctx context.Context, id, key, value string, ttl time.Duration) error

	// Touch resets the TTL without mutating fields. Returns ErrNotFound when
	// the session no longer exists.
	Touch(ctx context.Context, id string, ttl time.Duration) error

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, id string) error

	// List returns the IDs of all live sessions. Used only by the shutdown
	// drain.
	List(ctx context.Context) ([]string, error)

	// PeekFields reads a session's field map without refreshing the TTL.
	// A missing record yields an empty map, not an error: the caller is the
	// reclaim path, for which "already gone" degrades to a no-op.
	PeekFields(ctx context.Context, id string) (map[string]string, error)

	// Subscribe opens the store's expiration event feed.
	Subscribe(ctx context.Context) (Feed, error)

	// Close releases the store connection and any background routines.
	Close() error
}
