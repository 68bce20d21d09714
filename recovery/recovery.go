// Package recovery detects tasks and pipelines orphaned by a crashed or
// vanished worker and restores the engine's invariants.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/internal/metrics"
	"github.com/colliery-io/cloacina-go/scheduler"
	"github.com/colliery-io/cloacina-go/store"
)

// Policy tunes recovery behavior: whether resetting a worker-lost Running
// task charges a retry attempt or not is configurable rather than fixed.
type Policy struct {
	// HeartbeatTimeout is how long a task may remain Running and claimed by
	// a worker absent from LiveWorkers before it is considered orphaned.
	HeartbeatTimeout time.Duration
	// OutboxReapCutoff bounds how long an outbox row may exist with no
	// corresponding Ready task before it is deleted as stale.
	OutboxReapCutoff time.Duration
	// ChargeAttemptOnOrphan selects whether resetting an orphaned task
	// increments its attempt counter. false (the default) treats the reset
	// as not having completed an attempt from the state machine's
	// perspective.
	ChargeAttemptOnOrphan bool
}

// DefaultPolicy returns the engine's default recovery policy.
func DefaultPolicy() Policy {
	return Policy{HeartbeatTimeout: 60 * time.Second, OutboxReapCutoff: 5 * time.Minute}
}

// LiveWorkers supplies the current set of worker IDs considered alive, so
// the recovery service can tell an orphaned claim from one still legitimately
// in progress.
type LiveWorkers func(ctx context.Context) ([]string, error)

// Service runs on an interval, resetting or abandoning orphaned tasks,
// closing pipelines left open with no remaining work, and reaping stale
// outbox rows.
type Service struct {
	store       *store.Store
	scheduler   *scheduler.Scheduler
	liveWorkers LiveWorkers
	policy      Policy
}

// New returns a Service backed by st, reusing sched to close pipelines once
// no non-terminal task remains.
func New(st *store.Store, sched *scheduler.Scheduler, liveWorkers LiveWorkers, policy Policy) *Service {
	return &Service{store: st, scheduler: sched, liveWorkers: liveWorkers, policy: policy}
}

// Run blocks, ticking every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				slog.Error("recovery tick failed", "error", err)
			}
		}
	}
}

// Tick runs one full recovery pass: orphan reset/abandon, due-retry
// promotion, pipeline closure, and stale-outbox reaping.
func (s *Service) Tick(ctx context.Context) error {
	now := time.Now().UTC()

	live, err := s.liveWorkers(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list live workers")
	}

	cutoff := now.Add(-s.policy.HeartbeatTimeout)
	orphans, err := s.store.ListOrphanCandidates(ctx, cutoff, live)
	if err != nil {
		return errors.Wrap(err, "failed to list orphan candidates")
	}
	for _, te := range orphans {
		if err := s.recoverOne(ctx, te, now); err != nil {
			slog.Error("failed to recover orphaned task", "task_execution_id", te.ID, "error", err)
		}
	}

	if n, err := s.scheduler.PromoteDueRetries(ctx, "recovery"); err != nil {
		return errors.Wrap(err, "failed to promote due retries")
	} else if n > 0 {
		slog.Debug("promoted due retries", "count", n)
	}

	if _, err := s.scheduler.ClosePipelines(ctx); err != nil {
		return errors.Wrap(err, "failed to close dangling pipelines")
	}

	reapCutoff := now.Add(-s.policy.OutboxReapCutoff)
	if n, err := s.store.ReapStaleOutbox(ctx, reapCutoff); err != nil {
		return errors.Wrap(err, "failed to reap stale outbox rows")
	} else if n > 0 {
		slog.Info("reaped stale outbox rows", "count", n)
	}

	return nil
}

func (s *Service) recoverOne(ctx context.Context, te *store.TaskExecution, now time.Time) error {
	if te.Attempt < te.MaxAttempts {
		notStarted := store.TaskStatusNotStarted
		upd := &store.UpdateTaskExecution{ID: te.ID, Status: &notStarted}
		if s.policy.ChargeAttemptOnOrphan {
			attempt := te.Attempt + 1
			upd.Attempt = &attempt
		}
		upd.ClearClaim()
		if err := s.store.UpdateTaskExecution(ctx, upd); err != nil {
			return errors.Wrap(err, "failed to reset orphaned task")
		}
		if err := s.store.MarkTaskReady(ctx, te.ID, "recovery"); err != nil {
			return errors.Wrap(err, "failed to re-enqueue reset task")
		}
		metrics.OrphansRecovered.WithLabelValues("reset").Inc()
		return s.appendEvent(ctx, te, store.EventTaskReset, now)
	}

	abandoned := store.TaskStatusAbandoned
	if err := s.store.UpdateTaskExecution(ctx, &store.UpdateTaskExecution{
		ID:          te.ID,
		Status:      &abandoned,
		CompletedAt: &now,
	}); err != nil {
		return errors.Wrap(err, "failed to abandon orphaned task")
	}
	metrics.OrphansRecovered.WithLabelValues("abandoned").Inc()
	return s.appendEvent(ctx, te, store.EventTaskAbandoned, now)
}

func (s *Service) appendEvent(ctx context.Context, te *store.TaskExecution, eventType store.ExecutionEventType, now time.Time) error {
	return s.store.AppendExecutionEvent(ctx, &store.ExecutionEvent{
		ID:                  uuid.NewString(),
		PipelineExecutionID: te.PipelineExecutionID,
		TaskExecutionID:     &te.ID,
		EventType:           eventType,
		WorkerID:            "recovery",
		CreatedAt:           now,
	})
}
