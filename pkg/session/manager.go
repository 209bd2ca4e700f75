package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// createAttempts bounds the retry-on-collision loop in Create. UUID
// collisions are vanishingly rare; hitting the bound means the store is
// returning bogus duplicate errors.
const createAttempts = 5

// Manager is the public session API used by route handlers and resource
// collaborators. It wraps a Store and applies the configured sliding TTL on
// every qualifying access.
type Manager struct {
	store Store
	ttl   time.Duration
}

// NewManager creates a session manager over the given store.
func NewManager(store Store, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		ttl:   ttl,
	}
}

// TTL returns the configured sliding expiration window.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create mints a new session with a fresh unique identifier and an empty
// field map, and returns the identifier. Identifier collisions against live
// sessions are retried transparently.
func (m *Manager) Create(ctx context.Context) (string, error) {
	for range createAttempts {
		rec := &Record{
			ID:        uuid.NewString(),
			CreatedAt: time.Now(),
			Fields:    map[string]string{},
		}

		err := m.store.Create(ctx, rec, m.ttl)
		if err == nil {
			return rec.ID, nil
		}
		if errors.Is(err, ErrDuplicateID) {
			continue
		}
		return "", fmt.Errorf("creating session: %w", err)
	}
	return "", fmt.Errorf("creating session: %w after %d attempts", ErrDuplicateID, createAttempts)
}

// Fetch retrieves a session's identifier and field map, resetting the TTL as
// a side effect. This is on the hot path of every authenticated request.
func (m *Manager) Fetch(ctx context.Context, id string) (string, map[string]string, error) {
	rec, err := m.store.Fetch(ctx, id, m.ttl)
	if err != nil {
		return "", nil, err
	}
	return rec.ID, rec.Fields, nil
}

// Update merges one field into the session's field map and resets the TTL.
// Returns ErrNotFound when the session no longer exists.
func (m *Manager) Update(ctx context.Context, id, key, value string) error {
	return m.store.SetField(ctx, id, key, value, m.ttl)
}

// Touch resets the TTL without mutating fields. Called after a successful
// agent turn to keep a busy session alive.
func (m *Manager) Touch(ctx context.Context, id string) error {
	return m.store.Touch(ctx, id, m.ttl)
}

// Delete removes the session record immediately. It does not reclaim the
// session's resources; the explicit-end flow runs the reclaim path first and
// deletes after, so a partial reclaim failure never leaves orphaned resources
// with no record pointing at them.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// ListAll enumerates all live session identifiers. Used at process shutdown
// to drain remaining sessions through reclaim before exit.
func (m *Manager) ListAll(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// PeekFields reads a session's last-known field map without refreshing the
// TTL. Reclaim paths use it so that inspecting a dying session does not
// extend its life.
func (m *Manager) PeekFields(ctx context.Context, id string) (map[string]string, error) {
	return m.store.PeekFields(ctx, id)
}
