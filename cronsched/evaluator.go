package cronsched

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/store"
)

// CatchUpPolicy governs how many missed firings are materialized after the
// evaluator has been down long enough to skip multiple scheduled instants.
type CatchUpPolicy struct {
	// FireAll, when true, replays every missed instant up to MaxCatchUp. When
	// false (the default), only the single most-recent missed instant fires
	// and the skipped count is logged.
	FireAll    bool
	MaxCatchUp int
}

// FireLatestOnly is the default catch-up policy: never materialize a flood
// of back-dated executions after a long outage.
func FireLatestOnly() CatchUpPolicy { return CatchUpPolicy{FireAll: false} }

// FireAllMissed replays up to maxCatchUp missed firings in order.
func FireAllMissed(maxCatchUp int) CatchUpPolicy {
	return CatchUpPolicy{FireAll: true, MaxCatchUp: maxCatchUp}
}

// Submitter creates a new PipelineExecution (and its TaskExecution rows) for
// workflowName, seeding its input Context with seed. Supplied by the caller
// wiring the evaluator together (normally the engine's pipeline-submission
// helper) so cronsched stays decoupled from workflow-graph construction.
type Submitter func(ctx context.Context, workflowName string, seed map[string]any) (pipelineID store.UUID, err error)

// Evaluator ticks on an interval, firing due CronSchedules through submit.
type Evaluator struct {
	store    *store.Store
	submit   Submitter
	interval time.Duration
	policy   CatchUpPolicy
}

// New returns an Evaluator that checks for due schedules every interval.
func New(st *store.Store, submit Submitter, interval time.Duration, policy CatchUpPolicy) *Evaluator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Evaluator{store: st, submit: submit, interval: interval, policy: policy}
}

// Run blocks, ticking until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Tick(ctx); err != nil {
				slog.Error("cron tick failed", "error", err)
			}
		}
	}
}

// Tick evaluates every enabled schedule whose next_run_at has passed,
// firing the configured number of catch-up instants and advancing the
// schedule past every instant considered.
func (e *Evaluator) Tick(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	due, err := e.store.ListDueCronSchedules(ctx, now)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list due cron schedules")
	}

	fired := 0
	for _, cs := range due {
		n, err := e.fireSchedule(ctx, cs, now)
		if err != nil {
			slog.Error("failed to fire cron schedule", "schedule_id", cs.ID, "workflow", cs.WorkflowName, "error", err)
			continue
		}
		fired += n
	}
	return fired, nil
}

func (e *Evaluator) fireSchedule(ctx context.Context, cs *store.CronSchedule, now time.Time) (int, error) {
	expr, err := Parse(cs.Expression, cs.Timezone)
	if err != nil {
		return 0, errors.Wrapf(err, "schedule %s has invalid expression", cs.ID)
	}

	var missed []time.Time
	cursor := cs.NextRunAt
	for !cursor.After(now) {
		missed = append(missed, cursor)
		cursor = expr.Next(cursor)
	}
	if len(missed) == 0 {
		return 0, nil
	}

	var toFire []time.Time
	if e.policy.FireAll {
		toFire = missed
		if e.policy.MaxCatchUp > 0 && len(toFire) > e.policy.MaxCatchUp {
			skipped := len(toFire) - e.policy.MaxCatchUp
			slog.Warn("cron catch-up capped", "schedule_id", cs.ID, "skipped", skipped)
			toFire = toFire[skipped:]
		}
	} else {
		if len(missed) > 1 {
			slog.Warn("cron catch-up: firing latest missed instant only", "schedule_id", cs.ID, "skipped", len(missed)-1)
		}
		toFire = missed[len(missed)-1:]
	}

	fired := 0
	for _, firingTime := range toFire {
		dedupKey := dedupHash(cs.ID, firingTime)
		exists, err := e.store.HasCronExecution(ctx, dedupKey)
		if err != nil {
			return fired, errors.Wrap(err, "failed to check cron execution dedup key")
		}
		if exists {
			continue
		}

		pipelineID, err := e.submit(ctx, cs.WorkflowName, map[string]any{
			"cron_firing_time": firingTime.Format(time.RFC3339),
			"cron_schedule_id": cs.ID,
		})
		if err != nil {
			return fired, errors.Wrapf(err, "failed to submit pipeline for schedule %s", cs.ID)
		}

		if err := e.store.AdvanceCronSchedule(ctx, cs.ID, firingTime, cursor, dedupKey, pipelineID); err != nil {
			return fired, errors.Wrap(err, "failed to advance cron schedule")
		}
		fired++
	}
	return fired, nil
}

func dedupHash(scheduleID store.UUID, firingTime time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d", scheduleID, firingTime.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}
