package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/store"
)

func (d *DB) CreateCronSchedule(ctx context.Context, cs *store.CronSchedule) error {
	query := `
		INSERT INTO cron_schedules (id, workflow_name, expression, timezone, next_run_at, last_run_at, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := d.db.ExecContext(ctx, query, cs.ID, cs.WorkflowName, cs.Expression, cs.Timezone, cs.NextRunAt, cs.LastRunAt, cs.Enabled)
	return errors.Wrap(err, "failed to create cron schedule")
}

func (d *DB) ListDueCronSchedules(ctx context.Context, now time.Time) ([]*store.CronSchedule, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, workflow_name, expression, timezone, next_run_at, last_run_at, enabled
		FROM cron_schedules WHERE enabled AND next_run_at <= $1
		ORDER BY next_run_at ASC
		FOR UPDATE SKIP LOCKED
	`, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due cron schedules")
	}
	defer rows.Close()

	var out []*store.CronSchedule
	for rows.Next() {
		var cs store.CronSchedule
		if err := rows.Scan(&cs.ID, &cs.WorkflowName, &cs.Expression, &cs.Timezone, &cs.NextRunAt, &cs.LastRunAt, &cs.Enabled); err != nil {
			return nil, errors.Wrap(err, "failed to scan cron schedule")
		}
		out = append(out, &cs)
	}
	return out, rows.Err()
}

// AdvanceCronSchedule locks the schedule row, advances next_run_at/
// last_run_at and records the firing as a CronExecution keyed by dedupKey,
// all in one transaction, so a crash between the two writes can never
// produce a duplicate firing on restart.
func (d *DB) AdvanceCronSchedule(ctx context.Context, scheduleID store.UUID, firingTime, nextRunAt time.Time, dedupKey string, pipelineID store.UUID) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE cron_schedules SET next_run_at = $2, last_run_at = $3 WHERE id = $1
	`, scheduleID, nextRunAt, firingTime); err != nil {
		return errors.Wrap(err, "failed to advance cron schedule")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cron_executions (id, schedule_id, firing_time, dedup_key, pipeline_id, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, now())
	`, scheduleID, firingTime, dedupKey, pipelineID); err != nil {
		return errors.Wrap(err, "failed to record cron execution")
	}

	return errors.Wrap(tx.Commit(), "failed to commit cron advance transaction")
}

func (d *DB) HasCronExecution(ctx context.Context, dedupKey string) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM cron_executions WHERE dedup_key = $1)`, dedupKey).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return false, errors.Wrap(err, "failed to check cron execution dedup key")
	}
	return exists, nil
}
