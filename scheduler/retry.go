package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/store"
	"github.com/colliery-io/cloacina-go/workflow"
)

// HandleFailure records a failed attempt and either schedules a retry (by
// setting NextRetryAt) or abandons the task once its retry budget is
// exhausted.
func (s *Scheduler) HandleFailure(ctx context.Context, taskExecutionID store.UUID, taskErr error) error {
	te, err := s.store.GetTaskExecution(ctx, taskExecutionID)
	if err != nil {
		return errors.Wrap(err, "failed to load task execution")
	}

	pe, err := s.store.GetPipelineExecution(ctx, te.PipelineExecutionID)
	if err != nil {
		return errors.Wrap(err, "failed to load pipeline execution")
	}
	wf, ok := s.workflows.Get(pe.WorkflowName, pe.WorkflowVersion)
	if !ok {
		return errors.Errorf("workflow %s@%s not registered", pe.WorkflowName, pe.WorkflowVersion)
	}
	node, ok := wf.Task(te.TaskName)
	if !ok {
		return errors.Errorf("task %s not found in workflow %s@%s", te.TaskName, pe.WorkflowName, pe.WorkflowVersion)
	}

	msg := taskErr.Error()
	now := time.Now().UTC()
	workerID := ""
	if te.ClaimedBy != nil {
		workerID = *te.ClaimedBy
	}

	if te.Attempt >= node.RetryPolicy.MaxAttempts {
		abandoned := store.TaskStatusAbandoned
		if err := s.store.UpdateTaskExecution(ctx, &store.UpdateTaskExecution{
			ID:          te.ID,
			Status:      &abandoned,
			CompletedAt: &now,
			Error:       &msg,
		}); err != nil {
			return errors.Wrap(err, "failed to abandon task")
		}
		return s.appendEvent(ctx, pe.ID, te.ID, store.EventTaskAbandoned, workerID)
	}

	delay := computeDelay(node.RetryPolicy, te.Attempt)
	nextRetryAt := now.Add(delay)
	notStarted := store.TaskStatusNotStarted
	upd := (&store.UpdateTaskExecution{
		ID:          te.ID,
		Status:      &notStarted,
		Error:       &msg,
		NextRetryAt: &nextRetryAt,
	}).ClearClaim()
	if err := s.store.UpdateTaskExecution(ctx, upd); err != nil {
		return errors.Wrap(err, "failed to record failed attempt")
	}
	return s.appendEvent(ctx, pe.ID, te.ID, store.EventTaskRetryScheduled, workerID)
}

// computeDelay derives the backoff interval for the attempt that just
// failed from policy.Strategy: Fixed uses the base delay, Linear multiplies
// it by attempt, and Exponential multiplies it by Multiplier (2 when
// Multiplier <= 1) once per attempt after the first, capped at MaxDelayMs.
// The policy's ceiling and jitter are then applied. The
// backoff.ExponentialBackOff value only holds the parameters; its
// NextBackOff is not called.
func computeDelay(policy workflow.RetryPolicy, attempt int) time.Duration {
	base := time.Duration(policy.BaseDelayMs) * time.Millisecond
	var d time.Duration

	switch policy.Strategy {
	case workflow.BackoffLinear:
		d = base * time.Duration(attempt)
	case workflow.BackoffExponential:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = base
		eb.Multiplier = policy.Multiplier
		if eb.Multiplier <= 1 {
			eb.Multiplier = 2
		}
		eb.RandomizationFactor = 0
		eb.MaxInterval = time.Duration(policy.MaxDelayMs) * time.Millisecond
		d = base
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * eb.Multiplier)
			if policy.MaxDelayMs > 0 && d > eb.MaxInterval {
				d = eb.MaxInterval
				break
			}
		}
	default: // BackoffFixed
		d = base
	}

	if policy.MaxDelayMs > 0 {
		if max := time.Duration(policy.MaxDelayMs) * time.Millisecond; d > max {
			d = max
		}
	}
	if policy.Jitter && d > 0 {
		jitter := time.Duration(rand.Int63n(int64(d))) - d/2
		d += jitter
		if d < 0 {
			d = 0
		}
	}
	return d
}

// PromoteDueRetries marks ready every task awaiting a retry (held in
// not_started with next_retry_at set by HandleFailure) whose next_retry_at
// has elapsed, returning them to the outbox for another attempt. Tasks stay
// in not_started rather than a terminal status while a retry is pending, so
// a pipeline is never closed out from under a scheduled retry.
func (s *Scheduler) PromoteDueRetries(ctx context.Context, workerID string) (int, error) {
	notStarted := store.TaskStatusNotStarted
	candidates, err := s.store.ListTaskExecutions(ctx, &store.FindTaskExecution{Status: &notStarted})
	if err != nil {
		return 0, errors.Wrap(err, "failed to list not-started task executions")
	}

	now := time.Now().UTC()
	promoted := 0
	for _, te := range candidates {
		if te.NextRetryAt == nil || te.NextRetryAt.After(now) {
			continue
		}
		nextAttempt := te.Attempt + 1
		if err := s.store.UpdateTaskExecution(ctx, (&store.UpdateTaskExecution{
			ID:      te.ID,
			Attempt: &nextAttempt,
		}).ClearNextRetryAt()); err != nil {
			return promoted, errors.Wrapf(err, "failed to reset task %s for retry", te.ID)
		}
		if err := s.store.MarkTaskReady(ctx, te.ID, workerID); err != nil {
			return promoted, errors.Wrapf(err, "failed to mark retried task %s ready", te.ID)
		}
		promoted++
	}
	return promoted, nil
}
