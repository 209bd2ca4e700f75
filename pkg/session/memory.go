package session

import (
	"context"
	"maps"
	"sync"
	"time"
)

// feedBuffer is the per-subscriber event buffer. A subscriber that falls this
// far behind loses events, matching the at-most-once delivery of real
// keyspace notifications.
const feedBuffer = 64

// MemoryStore implements Store using an in-memory map with TTL-based
// expiration and an in-process expiration feed. It backs tests and the
// single-node "memory" deployment mode.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
	subs    map[*memoryFeed]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

type memoryRecord struct {
	rec       Record
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*memoryRecord),
		subs:    make(map[*memoryFeed]struct{}),
	}
}

// Create persists a new record with the given TTL.
func (s *MemoryStore) Create(_ context.Context, rec *Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.ID]; ok && time.Now().Before(existing.expiresAt) {
		return ErrDuplicateID
	}

	stored := Record{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt,
		Fields:    make(map[string]string, len(rec.Fields)),
	}
	maps.Copy(stored.Fields, rec.Fields)

	s.records[rec.ID] = &memoryRecord{
		rec:       stored,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Fetch retrieves a record by ID and resets its TTL.
func (s *MemoryStore) Fetch(_ context.Context, id string, ttl time.Duration) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.live(id)
	if !ok {
		return nil, ErrNotFound
	}
	mr.expiresAt = time.Now().Add(ttl)

	out := Record{
		ID:        mr.rec.ID,
		CreatedAt: mr.rec.CreatedAt,
		Fields:    make(map[string]string, len(mr.rec.Fields)),
	}
	maps.Copy(out.Fields, mr.rec.Fields)
	return &out, nil
}

// SetField upserts one field and resets the TTL.
func (s *MemoryStore) SetField(_ context.Context, id, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.live(id)
	if !ok {
		return ErrNotFound
	}
	mr.rec.Fields[key] = value
	mr.expiresAt = time.Now().Add(ttl)
	return nil
}

// Touch resets the TTL without mutating fields.
func (s *MemoryStore) Touch(_ context.Context, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.live(id)
	if !ok {
		return ErrNotFound
	}
	mr.expiresAt = time.Now().Add(ttl)
	return nil
}

// Delete removes a record. Absent records are not an error.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}

// List returns the IDs of all live sessions.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	ids := make([]string, 0, len(s.records))
	for id, mr := range s.records {
		if now.Before(mr.expiresAt) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// PeekFields reads a session's field map without refreshing the TTL. Missing
// records yield an empty map.
func (s *MemoryStore) PeekFields(_ context.Context, id string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mr, ok := s.records[id]
	if !ok || time.Now().After(mr.expiresAt) {
		return map[string]string{}, nil
	}

	fields := make(map[string]string, len(mr.rec.Fields))
	maps.Copy(fields, mr.rec.Fields)
	return fields, nil
}

// Subscribe opens an expiration feed fed by the janitor goroutine. Events
// carry the field map snapshotted at eviction time.
func (s *MemoryStore) Subscribe(_ context.Context) (Feed, error) {
	f := &memoryFeed{
		store:  s,
		events: make(chan Expiration, feedBuffer),
	}

	s.mu.Lock()
	s.subs[f] = struct{}{}
	s.mu.Unlock()
	return f, nil
}

// StartJanitor starts a background goroutine that evicts expired records and
// publishes expiration events. The goroutine is stopped by Close.
func (s *MemoryStore) StartJanitor(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// sweep evicts every expired record and publishes one event per eviction,
// carrying the field map captured before removal. Publishing happens under
// the lock: the sends are non-blocking, and holding the lock keeps a
// concurrent feed Close from closing a channel mid-send.
func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, mr := range s.records {
		if !now.After(mr.expiresAt) {
			continue
		}

		fields := make(map[string]string, len(mr.rec.Fields))
		maps.Copy(fields, mr.rec.Fields)
		delete(s.records, id)

		ev := Expiration{Key: KeyPrefix + id, Fields: fields}
		for f := range s.subs {
			select {
			case f.events <- ev:
			default:
				// Subscriber too far behind; drop, as a real store would.
			}
		}
	}
}

// Close stops the janitor goroutine and closes all feeds. Safe to call even
// if StartJanitor was never called.
func (s *MemoryStore) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for f := range s.subs {
		f.closeOnce.Do(func() { close(f.events) })
		delete(s.subs, f)
	}
	return nil
}

// live returns the record for id when it exists and has not lapsed. Caller
// holds the write lock.
func (s *MemoryStore) live(id string) (*memoryRecord, bool) {
	mr, ok := s.records[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(mr.expiresAt) {
		return nil, false
	}
	return mr, true
}

type memoryFeed struct {
	store     *MemoryStore
	events    chan Expiration
	closeOnce sync.Once
}

// Next blocks until the next expiration event or ctx is done.
func (f *memoryFeed) Next(ctx context.Context) (Expiration, error) {
	select {
	case <-ctx.Done():
		return Expiration{}, ctx.Err()
	case ev, ok := <-f.events:
		if !ok {
			return Expiration{}, ErrStoreUnavailable
		}
		return ev, nil
	}
}

// Close unregisters the feed from the store.
func (f *memoryFeed) Close() error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	if _, ok := f.store.subs[f]; ok {
		delete(f.store.subs, f)
		f.closeOnce.Do(func() { close(f.events) })
	}
	return nil
}

// Verify interface compliance.
var (
	_ Store = (*MemoryStore)(nil)
	_ Feed  = (*memoryFeed)(nil)
)
