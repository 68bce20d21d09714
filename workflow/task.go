package workflow

import (
	"context"

	"github.com/colliery-io/cloacina-go/pipelinectx"
)

// BackoffStrategy selects how the scheduler computes the delay before a
// retried task returns to Ready.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy governs how many times a task is attempted and how long the
// scheduler waits between attempts.
type RetryPolicy struct {
	Strategy    BackoffStrategy
	MaxAttempts int
	// BaseDelayMs is the starting delay; for Exponential it is multiplied by
	// Multiplier^(attempt-1), for Linear by attempt, for Fixed it is constant.
	BaseDelayMs int64
	Multiplier  float64
	MaxDelayMs  int64
	// Jitter adds up to +/-50% uniform jitter to the computed delay when true.
	Jitter bool
}

// DefaultRetryPolicy is a single attempt, never retried — the common case
// for idempotent but non-transient task bodies.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Strategy: BackoffFixed, MaxAttempts: 1, BaseDelayMs: 0}
}

// Task is the polymorphic capability set a registered unit of work must
// satisfy.
type Task interface {
	// ID returns the task's local identifier within its workflow.
	ID() string
	// Dependencies lists the local IDs of tasks that must reach a terminal
	// state before this task may become Ready.
	Dependencies() []string
	// RetryPolicy returns the policy governing attempt/backoff behavior.
	RetryPolicy() RetryPolicy
	// TriggerRules returns the trigger-rule expression gating this task, or
	// "" if the task should run whenever its dependencies are satisfied.
	TriggerRules() string
	// CodeFingerprint is a stable hash of the task's implementation, used to
	// derive the owning Workflow's content version.
	CodeFingerprint() string
	// Execute runs the task body against the input Context and returns the
	// (possibly mutated) output Context, or an error.
	Execute(ctx context.Context, input *pipelinectx.Context) (*pipelinectx.Context, error)
}

// DeferrableTask is a Task that additionally accepts an execution handle,
// through which it may call DeferUntil.
type DeferrableTask interface {
	Task
	ExecuteWithHandle(ctx context.Context, input *pipelinectx.Context, handle ExecutionHandle) (*pipelinectx.Context, error)
}

// ExecutionHandle is passed to tasks that opt into the two-argument Execute
// variant. It exposes deferral and task-execution identity.
type ExecutionHandle interface {
	TaskExecutionID() string
	// DeferUntil releases the executor's concurrency permit, polls cond at
	// interval until it returns true, then re-acquires a permit before
	// returning. Returns an error if ctx is cancelled while deferred.
	DeferUntil(ctx context.Context, cond func(context.Context) (bool, error), interval func() (nextInterval int64Millis)) error
}

// int64Millis documents the unit expected from the interval callback.
type int64Millis = int64

// Constructor builds a Task instance given its static configuration. The
// registry holds one Constructor per namespace; constructors are
// process-lifetime and shared between registration and every execution of
// the task.
type Constructor func(cfg map[string]any) (Task, error)
