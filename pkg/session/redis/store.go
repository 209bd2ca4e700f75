// Package redis provides Redis-backed session storage. Sessions are stored
// as one hash per key under the session namespace, with the server-side TTL
// providing expiration and keyspace notifications providing the expiration
// event feed.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/datachat-io/datachat/pkg/session"
)

// createdAtField is the hash field used as the atomic existence marker during
// create: HSETNX on it is the collision check.
const createdAtField = "created_at"

// scanBatch is the COUNT hint for SCAN during List.
const scanBatch = 100

// Config configures the Redis session store.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store implements session.Store using Redis.
type Store struct {
	client *redis.Client
	db     int
	logger *slog.Logger
}

// New creates a Redis session store and verifies connectivity.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: pinging redis: %v", session.ErrStoreUnavailable, err)
	}

	return &Store{
		client: client,
		db:     cfg.DB,
		logger: logger,
	}, nil
}

// EnableNotifications asks the server to publish expired-key events. Managed
// Redis deployments often forbid CONFIG; failure is logged and the operator
// is expected to set notify-keyspace-events in the server config instead.
func (s *Store) EnableNotifications(ctx context.Context) {
	if err := s.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		s.logger.Warn("could not enable keyspace notifications, "+
			"ensure notify-keyspace-events includes Ex in the server config",
			"error", err)
	}
}

// Create persists a new record with the given TTL. HSETNX on the created_at
// field makes the collision check atomic with the write.
func (s *Store) Create(ctx context.Context, rec *session.Record, ttl time.Duration) error {
	key := session.KeyPrefix + rec.ID

	set, err := s.client.HSetNX(ctx, key, createdAtField, rec.CreatedAt.UTC().Format(time.RFC3339Nano)).Result()
	if err != nil {
		return fmt.Errorf("%w: creating session: %v", session.ErrStoreUnavailable, err)
	}
	if !set {
		return session.ErrDuplicateID
	}

	pipe := s.client.TxPipeline()
	for k, v := range rec.Fields {
		pipe.HSet(ctx, key, k, v)
	}
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: initializing session: %v", session.ErrStoreUnavailable, err)
	}
	return nil
}

// Fetch retrieves a record and resets its TTL in a single pipelined round
// trip.
func (s *Store) Fetch(ctx context.Context, id string, ttl time.Duration) (*session.Record, error) {
	key := session.KeyPrefix + id

	pipe := s.client.TxPipeline()
	getAll := pipe.HGetAll(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: fetching session: %v", session.ErrStoreUnavailable, err)
	}

	raw, err := getAll.Result()
	if err != nil {
		return nil, fmt.Errorf("%w: reading session: %v", session.ErrStoreUnavailable, err)
	}
	if len(raw) == 0 {
		return nil, session.ErrNotFound
	}
	return recordFromHash(id, raw), nil
}

// SetField upserts one field and resets the TTL. The existence check keeps a
// dead session from being silently recreated as a bare hash; a session
// expiring between the check and the write is equivalent to expiring just
// after the write and is handled by the expiration path.
func (s *Store) SetField(ctx context.Context, id, key, value string, ttl time.Duration) error {
	redisKey := session.KeyPrefix + id

	exists, err := s.client.Exists(ctx, redisKey).Result()
	if err != nil {
		return fmt.Errorf("%w: checking session: %v", session.ErrStoreUnavailable, err)
	}
	if exists == 0 {
		return session.ErrNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, redisKey, key, value)
	pipe.Expire(ctx, redisKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: updating session: %v", session.ErrStoreUnavailable, err)
	}
	return nil
}

// Touch resets the TTL without mutating fields.
func (s *Store) Touch(ctx context.Context, id string, ttl time.Duration) error {
	ok, err := s.client.Expire(ctx, session.KeyPrefix+id, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: touching session: %v", session.ErrStoreUnavailable, err)
	}
	if !ok {
		return session.ErrNotFound
	}
	return nil
}

// Delete removes a record. Absent records are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, session.KeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("%w: deleting session: %v", session.ErrStoreUnavailable, err)
	}
	return nil
}

// List returns the IDs of all live sessions by scanning the session
// namespace.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, session.KeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: listing sessions: %v", session.ErrStoreUnavailable, err)
		}
		for _, key := range keys {
			if id, ok := (session.Expiration{Key: key}).SessionID(); ok {
				ids = append(ids, id)
			}
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}

// PeekFields reads a session's field map without refreshing the TTL. An
// already-evicted session yields an empty map.
func (s *Store) PeekFields(ctx context.Context, id string) (map[string]string, error) {
	raw, err := s.client.HGetAll(ctx, session.KeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: peeking session: %v", session.ErrStoreUnavailable, err)
	}
	delete(raw, createdAtField)
	return raw, nil
}

// Subscribe opens the expired-key notification feed for the store's logical
// database. Notifications carry only the key; consumers read the field map
// back with PeekFields, accepting the eviction race.
func (s *Store) Subscribe(ctx context.Context) (session.Feed, error) {
	pattern := fmt.Sprintf("__keyevent@%d__:expired", s.db)
	pubsub := s.client.PSubscribe(ctx, pattern)

	// Force the subscription onto the wire so a broken connection surfaces
	// here rather than on the first Next.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribing to expirations: %v", session.ErrStoreUnavailable, err)
	}

	return &feed{pubsub: pubsub}, nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

type feed struct {
	pubsub *redis.PubSub
}

// Next blocks until the next expired-key notification.
func (f *feed) Next(ctx context.Context) (session.Expiration, error) {
	msg, err := f.pubsub.ReceiveMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return session.Expiration{}, err
		}
		return session.Expiration{}, fmt.Errorf("%w: receiving expiration event: %v", session.ErrStoreUnavailable, err)
	}
	// Payload is the expired key; Fields stays nil so the consumer peeks.
	return session.Expiration{Key: msg.Payload}, nil
}

// Close releases the subscription.
func (f *feed) Close() error {
	return f.pubsub.Close()
}

// recordFromHash converts a Redis hash into a session record.
func recordFromHash(id string, raw map[string]string) *session.Record {
	rec := &session.Record{
		ID:     id,
		Fields: make(map[string]string, len(raw)),
	}
	for k, v := range raw {
		if k == createdAtField {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				rec.CreatedAt = t
			}
			continue
		}
		rec.Fields[k] = v
	}
	return rec
}

// Verify interface compliance.
var (
	_ session.Store = (*Store)(nil)
	_ session.Feed  = (*feed)(nil)
)
