package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle_StartAndStopOrder(t *testing.T) {
	lc := NewLifecycle()
	ctx := context.Background()

	var order []string
	lc.Register(
		func(context.Context) error { order = append(order, "start-a"); return nil },
		func(context.Context) error { order = append(order, "stop-a"); return nil },
	)
	lc.Register(
		func(context.Context) error { order = append(order, "start-b"); return nil },
		func(context.Context) error { order = append(order, "stop-b"); return nil },
	)

	require.NoError(t, lc.Start(ctx))
	assert.True(t, lc.IsStarted())
	require.NoError(t, lc.Stop(ctx))
	assert.False(t, lc.IsStarted())

	assert.Equal(t, []string{"start-a", "start-b", "stop-b", "stop-a"}, order,
		"stop callbacks run in reverse registration order")
}

func TestLifecycle_StartFailureRollsBack(t *testing.T) {
	lc := NewLifecycle()
	ctx := context.Background()

	var stopped []string
	lc.Register(
		func(context.Context) error { return nil },
		func(context.Context) error { stopped = append(stopped, "a"); return nil },
	)
	lc.Register(
		func(context.Context) error { return errors.New("boom") },
		func(context.Context) error { stopped = append(stopped, "b"); return nil },
	)

	err := lc.Start(ctx)
	require.Error(t, err)
	assert.False(t, lc.IsStarted())
	assert.Equal(t, []string{"a"}, stopped, "only already-started components are rolled back")
}

func TestLifecycle_DoubleStart(t *testing.T) {
	lc := NewLifecycle()
	ctx := context.Background()

	require.NoError(t, lc.Start(ctx))
	require.Error(t, lc.Start(ctx))
}

func TestLifecycle_StopWithoutStart(t *testing.T) {
	lc := NewLifecycle()
	require.NoError(t, lc.Stop(context.Background()))
}

func TestLifecycle_StopCollectsErrors(t *testing.T) {
	lc := NewLifecycle()
	ctx := context.Background()

	lc.OnStop(func(context.Context) error { return errors.New("first") })
	lc.OnStop(func(context.Context) error { return errors.New("second") })

	require.NoError(t, lc.Start(ctx))

	err := lc.Stop(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "second")
}

func TestLifecycle_RegisterCloser(t *testing.T) {
	lc := NewLifecycle()
	ctx := context.Background()

	c := &testCloser{}
	lc.RegisterCloser(c)

	require.NoError(t, lc.Start(ctx))
	require.NoError(t, lc.Stop(ctx))
	assert.True(t, c.closed)
}

type testCloser struct{ closed bool }

func (c *testCloser) Close() error {
	c.closed = true
	return nil
}
