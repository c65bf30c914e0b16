package reactor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/haltalk/internal/runtime/errors"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l, cancel
}

func TestDoRunsTasksInOrder(t *testing.T) {
	l, _ := startLoop(t)

	var order []int
	for i := 0; i < 5; i++ {
		require.True(t, l.Post(func() { order = append(order, i) }))
	}
	require.NoError(t, l.Do(context.Background(), func() { order = append(order, 99) }))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 99}, order)
}

func TestWorkPostedBeforeRunIsQueued(t *testing.T) {
	l := New(nil)
	var ran atomic.Bool
	require.True(t, l.Post(func() { ran.Store(true) }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.True(t, ran.Load())
}

func TestRunTwiceFails(t *testing.T) {
	l, _ := startLoop(t)
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.Error(t, l.Run(context.Background()))
}

func TestStoppedLoopRefusesWork(t *testing.T) {
	l, cancel := startLoop(t)
	cancel()
	<-l.Done()

	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), errspkg.ErrLoopStopped)
}

func TestTaskPanicDoesNotStopLoop(t *testing.T) {
	l, _ := startLoop(t)
	require.NoError(t, l.Do(context.Background(), func() { panic("boom") }))

	var ran bool
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestTimerFiresUntilCancelled(t *testing.T) {
	l, _ := startLoop(t)

	var ticks atomic.Int32
	id := l.AddTimer(5*time.Millisecond, func() { ticks.Add(1) })
	assert.Equal(t, 1, l.ActiveTimers())

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	var cancelled bool
	require.NoError(t, l.Do(context.Background(), func() { cancelled = l.CancelTimer(id) }))
	require.True(t, cancelled)
	assert.Zero(t, l.ActiveTimers())

	after := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "no tick may run after cancel")
	assert.False(t, l.CancelTimer(id))
}

func TestQueuedTickOfCancelledTimerIsDropped(t *testing.T) {
	l := New(nil)
	var fired bool
	tm := &timer{id: 7, fn: func() { fired = true }, stop: make(chan struct{})}
	l.timers[tm.id] = tm
	require.True(t, l.CancelTimer(tm.id))

	l.fire(tm)
	assert.False(t, fired)
}

func TestRunStopsTimers(t *testing.T) {
	l, cancel := startLoop(t)
	l.AddTimer(time.Hour, func() {})
	l.AddTimer(time.Hour, func() {})
	require.Equal(t, 2, l.ActiveTimers())

	cancel()
	<-l.Done()
	assert.Zero(t, l.ActiveTimers())
}
