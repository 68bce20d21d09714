package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func TestDeferUntilReleasesAndReclaimsSlot(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	token := acquireToken(t, sem)
	handle := NewTaskHandle("task-1", token, nil)

	var calls int32
	err := handle.DeferUntil(context.Background(), func(context.Context) (bool, error) {
		return atomic.AddInt32(&calls, 1) >= 3, nil
	}, func() int64 { return 1 })

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)
	assert.True(t, token.IsHeld())
	assert.False(t, sem.TryAcquire(1))
}

func TestDeferUntilFreesSlotForOtherTasksWhilePolling(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	token := acquireToken(t, sem)
	handle := NewTaskHandle("task-1", token, nil)

	var sawFreeSlot atomic.Bool
	err := handle.DeferUntil(context.Background(), func(context.Context) (bool, error) {
		if sem.TryAcquire(1) {
			sawFreeSlot.Store(true)
			sem.Release(1)
		}
		return true, nil
	}, func() int64 { return 1 })

	require.NoError(t, err)
	assert.True(t, sawFreeSlot.Load())
	assert.True(t, token.IsHeld())
}

func TestDeferUntilPropagatesConditionError(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	token := acquireToken(t, sem)
	handle := NewTaskHandle("task-1", token, nil)

	boom := assert.AnError
	err := handle.DeferUntil(context.Background(), func(context.Context) (bool, error) {
		return false, boom
	}, func() int64 { return 1 })

	assert.ErrorIs(t, err, boom)
}

func TestDeferUntilRespectsContextCancellation(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	token := acquireToken(t, sem)
	handle := NewTaskHandle("task-1", token, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := handle.DeferUntil(ctx, func(context.Context) (bool, error) {
		return false, nil
	}, func() int64 { return 100 })

	assert.ErrorIs(t, err, context.Canceled)
}
