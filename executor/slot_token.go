// Package executor claims ready tasks from the store, runs them under a
// bounded concurrency pool, and feeds outcomes back to the scheduler.
package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// SlotToken wraps a held weighted-semaphore permit, letting a deferred task
// release its concurrency slot and later reclaim one without the executor
// needing to know about the in-flight defer.
type SlotToken struct {
	mu   sync.Mutex
	sem  *semaphore.Weighted
	held bool
}

// NewSlotToken wraps an already-acquired permit on sem.
func NewSlotToken(sem *semaphore.Weighted) *SlotToken {
	return &SlotToken{sem: sem, held: true}
}

// Release frees the slot, returning true if a permit was actually held.
func (t *SlotToken) Release() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.held {
		return false
	}
	t.sem.Release(1)
	t.held = false
	return true
}

// Reclaim acquires a new permit if the token is currently released,
// blocking until one is available or ctx is cancelled.
func (t *SlotToken) Reclaim(ctx context.Context) error {
	t.mu.Lock()
	if t.held {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	t.mu.Lock()
	t.held = true
	t.mu.Unlock()
	return nil
}

// IsHeld reports whether the token currently holds a concurrency slot.
func (t *SlotToken) IsHeld() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.held
}
