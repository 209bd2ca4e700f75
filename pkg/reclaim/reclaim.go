// Package reclaim provides best-effort cleanup of per-session resources.
// Each Reclaimer releases one class of resource given a session's field map;
// the Runner fans a field map out to every registered reclaimer and swallows
// individual failures so one stuck resource never blocks the rest.
package reclaim

import (
	"context"
	"log/slog"
)

// Reclaimer releases one class of per-session resource. Implementations must
// be idempotent: a missing field means nothing to reclaim, and "already gone"
// is success, not failure.
type Reclaimer interface {
	// Name identifies the reclaimer in logs.
	Name() string

	// Reclaim attempts to release the resource referenced by fields. The
	// returned error is informational; the Runner logs it and proceeds.
	Reclaim(ctx context.Context, fields map[string]string) error
}

// Runner invokes every registered reclaimer with a session's field map.
type Runner struct {
	reclaimers []Reclaimer
	logger     *slog.Logger
}

// NewRunner creates a runner over the given reclaimers. Order is irrelevant:
// reclaimers must not depend on each other's completion or failure.
func NewRunner(logger *slog.Logger, reclaimers ...Reclaimer) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		reclaimers: reclaimers,
		logger:     logger,
	}
}

// Run invokes every reclaimer with the field map and returns how many were
// attempted. Failures are logged and swallowed: the system favors eventual
// best-effort cleanup over strict guarantees, and a failing database must
// never block reclaiming an unrelated index.
func (r *Runner) Run(ctx context.Context, fields map[string]string) int {
	for _, rc := range r.reclaimers {
		if err := rc.Reclaim(ctx, fields); err != nil {
			r.logger.Warn("resource reclaim failed",
				"reclaimer", rc.Name(), "error", err)
		}
	}
	return len(r.reclaimers)
}
