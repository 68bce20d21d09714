package sqlite

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/store"
)

func (d *DB) AppendExecutionEvent(ctx context.Context, ev *store.ExecutionEvent) error {
	query := `
		INSERT INTO execution_events (id, pipeline_execution_id, task_execution_id, event_type, event_data, worker_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, query,
		ev.ID, ev.PipelineExecutionID, ev.TaskExecutionID, ev.EventType, ev.EventData, ev.WorkerID, ev.CreatedAt,
	)
	return errors.Wrap(err, "failed to append execution event")
}

func (d *DB) ListExecutionEvents(ctx context.Context, find *store.FindExecutionEvent) ([]*store.ExecutionEvent, error) {
	query := `
		SELECT id, pipeline_execution_id, task_execution_id, event_type, event_data, worker_id, created_at, sequence_num
		FROM execution_events WHERE 1=1
	`
	var args []interface{}
	if find != nil {
		if find.PipelineExecutionID != nil {
			query += " AND pipeline_execution_id = ?"
			args = append(args, *find.PipelineExecutionID)
		}
		if find.OlderThan != nil {
			query += " AND created_at < ?"
			args = append(args, *find.OlderThan)
		}
	}
	query += " ORDER BY sequence_num ASC"
	if find != nil && find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list execution events")
	}
	defer rows.Close()

	var out []*store.ExecutionEvent
	for rows.Next() {
		var ev store.ExecutionEvent
		if err := rows.Scan(&ev.ID, &ev.PipelineExecutionID, &ev.TaskExecutionID, &ev.EventType, &ev.EventData, &ev.WorkerID, &ev.CreatedAt, &ev.SequenceNum); err != nil {
			return nil, errors.Wrap(err, "failed to scan execution event")
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (d *DB) DeleteExecutionEventsOlderThan(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	if dryRun {
		var n int64
		err := d.db.QueryRowContext(ctx, `SELECT count(*) FROM execution_events WHERE created_at < ?`, cutoff).Scan(&n)
		return n, errors.Wrap(err, "failed to count events for dry run")
	}
	res, err := d.db.ExecContext(ctx, `DELETE FROM execution_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old execution events")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "failed to count deleted events")
}
