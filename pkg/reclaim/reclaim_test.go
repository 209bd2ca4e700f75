package reclaim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubReclaimer counts invocations and optionally fails.
type stubReclaimer struct {
	name  string
	err   error
	calls int
}

func (r *stubReclaimer) Name() string { return r.name }

func (r *stubReclaimer) Reclaim(context.Context, map[string]string) error {
	r.calls++
	return r.err
}

func TestRunner_InvokesEveryReclaimer(t *testing.T) {
	db := &stubReclaimer{name: "database"}
	idx := &stubReclaimer{name: "index"}
	runner := NewRunner(nil, db, idx)

	attempted := runner.Run(context.Background(), map[string]string{})

	assert.Equal(t, 2, attempted)
	assert.Equal(t, 1, db.calls)
	assert.Equal(t, 1, idx.calls)
}

func TestRunner_OneFailureNeverBlocksTheRest(t *testing.T) {
	failing := &stubReclaimer{name: "database", err: errors.New("drop refused")}
	idx := &stubReclaimer{name: "index"}
	runner := NewRunner(nil, failing, idx)

	attempted := runner.Run(context.Background(), map[string]string{})

	assert.Equal(t, 2, attempted, "a failing reclaimer still counts as attempted")
	assert.Equal(t, 1, idx.calls)
}

func TestRunner_DoubleInvocationIsHarmless(t *testing.T) {
	db := &stubReclaimer{name: "database"}
	runner := NewRunner(nil, db)
	fields := map[string]string{"database_id": "tmp_1"}

	require.Equal(t, 1, runner.Run(context.Background(), fields))
	require.Equal(t, 1, runner.Run(context.Background(), fields))
	assert.Equal(t, 2, db.calls)
}
