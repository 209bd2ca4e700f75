package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Resubscription policy for a broken expiration feed. Exhausting the retry
// budget is fatal: a silently dead listener would mean no session is ever
// reclaimed again.
const (
	resubscribeMaxTries        = 10
	resubscribeInitialInterval = 500 * time.Millisecond
	resubscribeMaxInterval     = 30 * time.Second
)

// ReclaimRunner is the cleanup side the Listener drives. The runner owns the
// per-reclaimer error handling; Run never fails.
type ReclaimRunner interface {
	Run(ctx context.Context, fields map[string]string) int
}

// Listener is the long-lived background task that subscribes to the store's
// expiration event feed and drives resource reclaim for every expired
// session.
type Listener struct {
	store  Store
	runner ReclaimRunner
	logger *slog.Logger

	resubscribeTries    uint
	resubscribeInitial  time.Duration
	resubscribeMaxDelay time.Duration
}

// NewListener creates an expiration listener over the given store.
func NewListener(store Store, runner ReclaimRunner, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		store:               store,
		runner:              runner,
		logger:              logger,
		resubscribeTries:    resubscribeMaxTries,
		resubscribeInitial:  resubscribeInitialInterval,
		resubscribeMaxDelay: resubscribeMaxInterval,
	}
}

// Run subscribes to the expiration feed and processes events until ctx is
// cancelled. A reclaim failure for one session never stops the loop. When the
// feed breaks, Run resubscribes with exponential backoff; a permanently
// failed resubscription is returned as a fatal error for the supervisor.
//
// On cancellation the listener stops accepting new events but finishes the
// in-flight reclaim.
func (l *Listener) Run(ctx context.Context) error {
	feed, err := l.subscribe(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = feed.Close() }()

	l.logger.Info("expiration listener started")

	for {
		ev, err := feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("expiration listener stopped")
				return nil
			}

			l.logger.Warn("expiration feed broken, resubscribing", "error", err)
			_ = feed.Close()
			feed, err = l.subscribe(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("resubscribing to expiration feed: %w", err)
			}
			continue
		}

		l.handle(ctx, ev)
	}
}

// handle processes one expiration event: filter out non-session keys, capture
// the last-known field map, and run every reclaimer with it.
func (l *Listener) handle(ctx context.Context, ev Expiration) {
	id, ok := ev.SessionID()
	if !ok {
		return
	}

	// Finish the reclaim even when the supervisor cancels mid-flight.
	reclaimCtx := context.WithoutCancel(ctx)

	fields := ev.Fields
	if fields == nil {
		var err error
		fields, err = l.store.PeekFields(reclaimCtx, id)
		if err != nil {
			// The store refused the read (eviction alone yields an empty map,
			// not an error). The reclaim degrades to a no-op and the orphan
			// is left for out-of-band garbage collection.
			l.logger.Warn("could not capture fields for expired session",
				"session_id", id, "error", err)
			fields = map[string]string{}
		}
	}

	attempted := l.runner.Run(reclaimCtx, fields)
	l.logger.Info("reclaimed expired session",
		"session_id", id, "reclaimers_attempted", attempted)
}

// subscribe opens the feed, retrying with exponential backoff on failure.
func (l *Listener) subscribe(ctx context.Context) (Feed, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.resubscribeInitial
	bo.MaxInterval = l.resubscribeMaxDelay

	feed, err := backoff.Retry(ctx, func() (Feed, error) {
		f, err := l.store.Subscribe(ctx)
		if err != nil {
			l.logger.Warn("expiration feed subscription failed", "error", err)
			return nil, err
		}
		return f, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(l.resubscribeTries))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("subscribing to expiration feed: %w", err)
	}
	return feed, nil
}

// Drain reclaims and deletes every remaining session. Called by the
// supervisor at shutdown so that sessions still alive at exit go through the
// same reclaim path as expirations. Failures for individual sessions are
// logged and do not stop the drain.
func Drain(ctx context.Context, m *Manager, runner ReclaimRunner, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	ids, err := m.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions for drain: %w", err)
	}

	for _, id := range ids {
		if err := End(ctx, m, runner, id); err != nil && !errors.Is(err, ErrNotFound) {
			logger.Warn("draining session failed", "session_id", id, "error", err)
			continue
		}
		logger.Info("drained session", "session_id", id)
	}
	return nil
}

// End is the explicit-end flow shared by the session-termination handler and
// the shutdown drain: capture the field map, reclaim every resource, then
// delete the record. Reclaim-then-delete ordering guarantees a partial
// reclaim failure never leaves resources orphaned without a record pointing
// at them. Racing against a concurrent expiration is harmless because every
// reclaimer is idempotent and the store deletes atomically.
func End(ctx context.Context, m *Manager, runner ReclaimRunner, id string) error {
	fields, err := m.PeekFields(ctx, id)
	if err != nil {
		return fmt.Errorf("capturing fields for session end: %w", err)
	}

	runner.Run(ctx, fields)

	if err := m.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
