package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/store"
)

func (d *DB) CreateTaskExecution(ctx context.Context, te *store.TaskExecution) error {
	query := `
		INSERT INTO task_executions
			(id, pipeline_execution_id, task_name, status, sub_status, attempt, max_attempts,
			 trigger_rules, task_configuration, started_at, completed_at, claimed_at, claimed_by, error, next_retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, query,
		te.ID, te.PipelineExecutionID, te.TaskName, te.Status, te.SubStatus, te.Attempt, te.MaxAttempts,
		te.TriggerRules, te.TaskConfiguration, te.StartedAt, te.CompletedAt, te.ClaimedAt, te.ClaimedBy, te.Error, te.NextRetryAt,
	)
	return errors.Wrap(err, "failed to create task execution")
}

const taskExecutionColumns = `id, pipeline_execution_id, task_name, status, sub_status, attempt, max_attempts,
	trigger_rules, task_configuration, started_at, completed_at, claimed_at, claimed_by, error, next_retry_at`

func scanTaskExecution(row interface{ Scan(...interface{}) error }) (*store.TaskExecution, error) {
	var te store.TaskExecution
	err := row.Scan(
		&te.ID, &te.PipelineExecutionID, &te.TaskName, &te.Status, &te.SubStatus, &te.Attempt, &te.MaxAttempts,
		&te.TriggerRules, &te.TaskConfiguration, &te.StartedAt, &te.CompletedAt, &te.ClaimedAt, &te.ClaimedBy, &te.Error, &te.NextRetryAt,
	)
	if err != nil {
		return nil, err
	}
	return &te, nil
}

func (d *DB) GetTaskExecution(ctx context.Context, id store.UUID) (*store.TaskExecution, error) {
	query := `SELECT ` + taskExecutionColumns + ` FROM task_executions WHERE id = ?`
	te, err := scanTaskExecution(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get task execution")
	}
	return te, nil
}

func (d *DB) ListTaskExecutions(ctx context.Context, find *store.FindTaskExecution) ([]*store.TaskExecution, error) {
	query := `SELECT ` + taskExecutionColumns + ` FROM task_executions WHERE 1=1`
	var args []interface{}
	if find != nil {
		if find.ID != nil {
			query += " AND id = ?"
			args = append(args, *find.ID)
		}
		if find.PipelineExecutionID != nil {
			query += " AND pipeline_execution_id = ?"
			args = append(args, *find.PipelineExecutionID)
		}
		if find.Status != nil {
			query += " AND status = ?"
			args = append(args, *find.Status)
		}
		if find.ClaimedBy != nil {
			query += " AND claimed_by = ?"
			args = append(args, *find.ClaimedBy)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list task executions")
	}
	defer rows.Close()

	var out []*store.TaskExecution
	for rows.Next() {
		te, err := scanTaskExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task execution")
		}
		out = append(out, te)
	}
	return out, rows.Err()
}

func (d *DB) UpdateTaskExecution(ctx context.Context, upd *store.UpdateTaskExecution) error {
	var sets []string
	var args []interface{}

	add := func(col string, val interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}

	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.SubStatus != nil {
		add("sub_status", *upd.SubStatus)
	}
	if upd.Attempt != nil {
		add("attempt", *upd.Attempt)
	}
	if upd.StartedAt != nil {
		add("started_at", *upd.StartedAt)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}
	if upd.ClaimedAt != nil {
		add("claimed_at", *upd.ClaimedAt)
	}
	if upd.ClaimedBy != nil {
		add("claimed_by", *upd.ClaimedBy)
	}
	if upd.Error != nil {
		add("error", *upd.Error)
	}
	if upd.NextRetryAt != nil {
		add("next_retry_at", *upd.NextRetryAt)
	}
	if upd.WantsClearClaim() {
		sets = append(sets, "claimed_at = NULL", "claimed_by = NULL")
	}
	if upd.WantsClearNextRetryAt() {
		sets = append(sets, "next_retry_at = NULL")
	}
	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE task_executions SET "
	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += " WHERE id = ?"
	args = append(args, upd.ID)

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update task execution")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) MarkTaskReady(ctx context.Context, taskExecutionID store.UUID, workerID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE task_executions SET status = 'ready' WHERE id = ? AND status = 'not_started'`,
		taskExecutionID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to mark task ready")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check mark-ready result")
	}
	if n == 0 {
		return store.ErrConflict
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_outbox (id, task_execution_id, created_at) VALUES (?, ?, ?)`,
		uuid.NewString(), taskExecutionID, now,
	); err != nil {
		return errors.Wrap(err, "failed to insert outbox row")
	}

	var pipelineID string
	if err := tx.QueryRowContext(ctx,
		`SELECT pipeline_execution_id FROM task_executions WHERE id = ?`, taskExecutionID,
	).Scan(&pipelineID); err != nil {
		return errors.Wrap(err, "failed to look up pipeline for event")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO execution_events (id, pipeline_execution_id, task_execution_id, event_type, worker_id, created_at)
		 VALUES (?, ?, ?, 'task_marked_ready', ?, ?)`,
		uuid.NewString(), pipelineID, taskExecutionID, workerID, now,
	); err != nil {
		return errors.Wrap(err, "failed to append task_marked_ready event")
	}

	return errors.Wrap(tx.Commit(), "failed to commit mark-ready transaction")
}

// ClaimReadyTasks runs the whole claim as one transaction on the driver's
// single connection; with no concurrent connection able to interleave,
// this gives the same no-double-claim guarantee as postgres's SKIP LOCKED
// without needing row-level locking primitives SQLite doesn't have.
func (d *DB) ClaimReadyTasks(ctx context.Context, n int, workerID string, now time.Time) ([]*store.TaskExecution, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT task_execution_id FROM task_outbox ORDER BY created_at ASC LIMIT ?
	`, n)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select outbox rows")
	}
	var taskIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan outbox row")
		}
		taskIDs = append(taskIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate outbox rows")
	}
	if len(taskIDs) == 0 {
		return nil, tx.Commit()
	}

	var claimed []*store.TaskExecution
	for _, id := range taskIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE task_executions
			SET status = 'running', sub_status = 'active', claimed_at = ?, claimed_by = ?, started_at = COALESCE(started_at, ?)
			WHERE id = ? AND status = 'ready'
		`, now, workerID, now, id)
		if err != nil {
			return nil, errors.Wrap(err, "failed to claim task execution")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, "failed to check claim result")
		}
		if affected == 0 {
			continue
		}

		te, err := scanTaskExecution(tx.QueryRowContext(ctx, `SELECT `+taskExecutionColumns+` FROM task_executions WHERE id = ?`, id))
		if err != nil {
			return nil, errors.Wrap(err, "failed to reload claimed task execution")
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM task_outbox WHERE task_execution_id = ?`, id); err != nil {
			return nil, errors.Wrap(err, "failed to delete claimed outbox row")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO execution_events (id, pipeline_execution_id, task_execution_id, event_type, worker_id, created_at)
			VALUES (?, ?, ?, 'task_claimed', ?, ?)
		`, uuid.NewString(), te.PipelineExecutionID, te.ID, workerID, now); err != nil {
			return nil, errors.Wrap(err, "failed to append task_claimed event")
		}

		claimed = append(claimed, te)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit claim transaction")
	}
	return claimed, nil
}

func (d *DB) ReapStaleOutbox(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM task_outbox
		WHERE created_at < ?
		AND task_execution_id IN (SELECT id FROM task_executions WHERE status != 'ready')
	`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reap stale outbox rows")
	}
	rowsN, err := res.RowsAffected()
	return rowsN, errors.Wrap(err, "failed to count reaped rows")
}

func (d *DB) ListOrphanCandidates(ctx context.Context, heartbeatCutoff time.Time, liveWorkers []string) ([]*store.TaskExecution, error) {
	query := `SELECT ` + taskExecutionColumns + ` FROM task_executions WHERE status = 'running' AND claimed_at < ?`
	args := []interface{}{heartbeatCutoff}
	for _, w := range liveWorkers {
		query += " AND claimed_by != ?"
		args = append(args, w)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list orphan candidates")
	}
	defer rows.Close()

	var out []*store.TaskExecution
	for rows.Next() {
		te, err := scanTaskExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan orphan candidate")
		}
		out = append(out, te)
	}
	return out, rows.Err()
}
