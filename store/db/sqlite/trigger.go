package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/store"
)

func (d *DB) CreateTriggerSchedule(ctx context.Context, ts *store.TriggerSchedule) error {
	query := `
		INSERT INTO trigger_schedules (id, trigger_name, workflow_name, poll_interval_ms, allow_concurrent, last_polled_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, query, ts.ID, ts.TriggerName, ts.WorkflowName, ts.PollIntervalMs, ts.AllowConcurrent, ts.LastPolledAt)
	return errors.Wrap(err, "failed to create trigger schedule")
}

func (d *DB) ListTriggerSchedules(ctx context.Context) ([]*store.TriggerSchedule, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, trigger_name, workflow_name, poll_interval_ms, allow_concurrent, last_polled_at
		FROM trigger_schedules
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list trigger schedules")
	}
	defer rows.Close()

	var out []*store.TriggerSchedule
	for rows.Next() {
		var ts store.TriggerSchedule
		if err := rows.Scan(&ts.ID, &ts.TriggerName, &ts.WorkflowName, &ts.PollIntervalMs, &ts.AllowConcurrent, &ts.LastPolledAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan trigger schedule")
		}
		out = append(out, &ts)
	}
	return out, rows.Err()
}

func (d *DB) UpdateTriggerPolledAt(ctx context.Context, id store.UUID, polledAt time.Time) error {
	_, err := d.db.ExecContext(ctx, `UPDATE trigger_schedules SET last_polled_at = ? WHERE id = ?`, polledAt, id)
	return errors.Wrap(err, "failed to update trigger polled_at")
}

func (d *DB) HasActiveFiringWithin(ctx context.Context, triggerName, dedupHash string, cooldown time.Duration, now time.Time) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM trigger_firings
			WHERE trigger_name = ? AND dedup_hash = ? AND fired_at > ?
		)
	`, triggerName, dedupHash, now.Add(-cooldown)).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check trigger cooldown")
	}
	if !exists {
		if _, err := d.db.ExecContext(ctx, `
			INSERT INTO trigger_firings (id, trigger_name, dedup_hash, fired_at) VALUES (?, ?, ?, ?)
		`, uuid.NewString(), triggerName, dedupHash, now); err != nil {
			return false, errors.Wrap(err, "failed to record trigger firing")
		}
	}
	return exists, nil
}
