package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mgrTestTTL      = 5 * time.Minute
	mgrTestShortTTL = 60 * time.Millisecond
	mgrTestCreateN  = 50
)

func newTestManager(ttl time.Duration) (*Manager, *MemoryStore) {
	store := NewMemoryStore()
	return NewManager(store, ttl), store
}

func TestManager_CreateReturnsDistinctIDs(t *testing.T) {
	m, _ := newTestManager(mgrTestTTL)
	ctx := context.Background()

	seen := make(map[string]struct{}, mgrTestCreateN)
	for range mgrTestCreateN {
		id, err := m.Create(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, id)

		_, dup := seen[id]
		require.False(t, dup, "identifier %q returned twice", id)
		seen[id] = struct{}{}
	}
}

func TestManager_CreateRetriesOnCollision(t *testing.T) {
	store := &collidingStore{Store: NewMemoryStore(), collisions: 2}
	m := NewManager(store, mgrTestTTL)

	id, err := m.Create(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 3, store.attempts, "expected two collisions then success")
}

func TestManager_CreateGivesUpAfterBoundedAttempts(t *testing.T) {
	store := &collidingStore{Store: NewMemoryStore(), collisions: createAttempts + 1}
	m := NewManager(store, mgrTestTTL)

	_, err := m.Create(context.Background())
	require.ErrorIs(t, err, ErrDuplicateID)
}

func TestManager_UpdateThenFetchRoundTrip(t *testing.T) {
	m, _ := newTestManager(mgrTestTTL)
	ctx := context.Background()

	id, err := m.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Update(ctx, id, FieldDatabaseID, "tmp_1"))
	require.NoError(t, m.Update(ctx, id, FieldIndexPath, "/vs/abc"))

	gotID, fields, err := m.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, "tmp_1", fields[FieldDatabaseID])
	assert.Equal(t, "/vs/abc", fields[FieldIndexPath])
}

func TestManager_FetchUnknownSession(t *testing.T) {
	m, _ := newTestManager(mgrTestTTL)

	_, _, err := m.Fetch(context.Background(), "nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManager_UpdateUnknownSession(t *testing.T) {
	m, _ := newTestManager(mgrTestTTL)

	err := m.Update(context.Background(), "nonexistent", FieldDatabaseID, "tmp_1")
	require.ErrorIs(t, err, ErrNotFound, "update must not silently succeed against a dead session")
}

func TestManager_FetchSlidesTTL(t *testing.T) {
	m, _ := newTestManager(mgrTestShortTTL)
	ctx := context.Background()

	id, err := m.Create(ctx)
	require.NoError(t, err)

	// Keep fetching past the original window; each fetch resets the TTL.
	for range 4 {
		time.Sleep(mgrTestShortTTL / 2)
		_, _, err := m.Fetch(ctx, id)
		require.NoError(t, err)
	}
}

func TestManager_TouchSlidesTTLWithoutMutating(t *testing.T) {
	m, _ := newTestManager(mgrTestShortTTL)
	ctx := context.Background()

	id, err := m.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Update(ctx, id, FieldProgress, "42"))

	for range 4 {
		time.Sleep(mgrTestShortTTL / 2)
		require.NoError(t, m.Touch(ctx, id))
	}

	_, fields, err := m.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{FieldProgress: "42"}, fields)
}

func TestManager_TouchUnknownSession(t *testing.T) {
	m, _ := newTestManager(mgrTestTTL)

	err := m.Touch(context.Background(), "nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManager_DeleteThenFetch(t *testing.T) {
	m, _ := newTestManager(mgrTestTTL)
	ctx := context.Background()

	id, err := m.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, id))

	_, _, err = m.Fetch(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ListAll(t *testing.T) {
	m, _ := newTestManager(mgrTestTTL)
	ctx := context.Background()

	var want []string
	for range 3 {
		id, err := m.Create(ctx)
		require.NoError(t, err)
		want = append(want, id)
	}

	got, err := m.ListAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, got)
}

// collidingStore reports ErrDuplicateID for the first collisions Create
// calls, then delegates.
type collidingStore struct {
	Store
	collisions int
	attempts   int
}

func (s *collidingStore) Create(ctx context.Context, rec *Record, ttl time.Duration) error {
	s.attempts++
	if s.attempts <= s.collisions {
		return ErrDuplicateID
	}
	return s.Store.Create(ctx, rec, ttl)
}
