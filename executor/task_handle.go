package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/colliery-io/cloacina-go/store"
)

// TaskHandle is passed to tasks implementing workflow.DeferrableTask. Its
// primary feature is DeferUntil, which releases the executor's concurrency
// slot while the task polls an external condition, then reclaims a slot
// before the task resumes.
type TaskHandle struct {
	taskExecutionID string
	slot            *SlotToken
	store           *store.Store // nil in tests that don't exercise sub_status persistence
}

// NewTaskHandle builds a handle bound to one in-flight task execution.
func NewTaskHandle(taskExecutionID string, slot *SlotToken, st *store.Store) *TaskHandle {
	return &TaskHandle{taskExecutionID: taskExecutionID, slot: slot, store: st}
}

// TaskExecutionID satisfies workflow.ExecutionHandle.
func (h *TaskHandle) TaskExecutionID() string { return h.taskExecutionID }

// DeferUntil satisfies workflow.ExecutionHandle: it releases the
// concurrency slot, polls cond at the interval cond's caller supplies via
// the interval callback, and reclaims a slot once cond reports true.
func (h *TaskHandle) DeferUntil(ctx context.Context, cond func(context.Context) (bool, error), interval func() int64) error {
	slog.Debug("task entering deferred state", "task_execution_id", h.taskExecutionID)
	h.setSubStatus(ctx, store.SubStatusDeferred)
	h.slot.Release()

	for {
		ms := interval()
		if ms <= 0 {
			ms = 1000
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(ms) * time.Millisecond):
		}

		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			break
		}
	}

	if err := h.slot.Reclaim(ctx); err != nil {
		return err
	}
	h.setSubStatus(ctx, store.SubStatusActive)
	slog.Debug("task resumed, concurrency slot reclaimed", "task_execution_id", h.taskExecutionID)
	return nil
}

func (h *TaskHandle) setSubStatus(ctx context.Context, sub store.SubStatus) {
	if h.store == nil {
		return
	}
	if err := h.store.UpdateTaskExecution(ctx, &store.UpdateTaskExecution{ID: h.taskExecutionID, SubStatus: &sub}); err != nil {
		slog.Warn("failed to persist task sub_status", "task_execution_id", h.taskExecutionID, "error", err)
	}
}
