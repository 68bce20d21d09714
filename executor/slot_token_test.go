package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func acquireToken(t *testing.T, sem *semaphore.Weighted) *SlotToken {
	t.Helper()
	require.NoError(t, sem.Acquire(context.Background(), 1))
	return NewSlotToken(sem)
}

func TestSlotTokenReleaseFreesPermit(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	token := acquireToken(t, sem)

	assert.True(t, token.IsHeld())
	assert.False(t, sem.TryAcquire(1))

	assert.True(t, token.Release())
	assert.False(t, token.IsHeld())
	assert.True(t, sem.TryAcquire(1))
	sem.Release(1)

	assert.False(t, token.Release())
}

func TestSlotTokenReclaimReacquiresPermit(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	token := acquireToken(t, sem)

	token.Release()
	require.NoError(t, token.Reclaim(context.Background()))
	assert.True(t, token.IsHeld())
	assert.False(t, sem.TryAcquire(1))
}

func TestSlotTokenReclaimWhenAlreadyHeldIsNoop(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	token := acquireToken(t, sem)

	require.NoError(t, token.Reclaim(context.Background()))
	assert.True(t, token.IsHeld())
}

func TestSlotTokenReclaimWaitsForAvailability(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	token := acquireToken(t, sem)
	token.Release()

	require.NoError(t, sem.Acquire(context.Background(), 1)) // another task grabs the slot

	done := make(chan struct{})
	go func() {
		require.NoError(t, token.Reclaim(context.Background()))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("reclaim completed before the competing permit was released")
	case <-time.After(30 * time.Millisecond):
	}

	sem.Release(1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reclaim never completed after the slot freed up")
	}
	assert.True(t, token.IsHeld())
}
