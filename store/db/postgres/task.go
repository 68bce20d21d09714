package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/store"
)

func (d *DB) CreateTaskExecution(ctx context.Context, te *store.TaskExecution) error {
	query := `
		INSERT INTO task_executions
			(id, pipeline_execution_id, task_name, status, sub_status, attempt, max_attempts,
			 trigger_rules, task_configuration, started_at, completed_at, claimed_at, claimed_by, error, next_retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := d.db.ExecContext(ctx, query,
		te.ID, te.PipelineExecutionID, te.TaskName, te.Status, te.SubStatus, te.Attempt, te.MaxAttempts,
		te.TriggerRules, te.TaskConfiguration, te.StartedAt, te.CompletedAt, te.ClaimedAt, te.ClaimedBy, te.Error, te.NextRetryAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create task execution")
	}
	return nil
}

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

const taskExecutionColumns = `id, pipeline_execution_id, task_name, status, sub_status, attempt, max_attempts,
	trigger_rules, task_configuration, started_at, completed_at, claimed_at, claimed_by, error, next_retry_at`

func (d *DB) GetTaskExecution(ctx context.Context, id store.UUID) (*store.TaskExecution, error) {
	query := `SELECT ` + taskExecutionColumns + ` FROM task_executions WHERE id = $1`
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
	argIndex := 1
	if find != nil {
		if find.ID != nil {
			query += fmt.Sprintf(" AND id = $%d", argIndex)
			args = append(args, *find.ID)
			argIndex++
		}
		if find.PipelineExecutionID != nil {
			query += fmt.Sprintf(" AND pipeline_execution_id = $%d", argIndex)
			args = append(args, *find.PipelineExecutionID)
			argIndex++
		}
		if find.Status != nil {
			query += fmt.Sprintf(" AND status = $%d", argIndex)
			args = append(args, *find.Status)
			argIndex++
		}
		if find.ClaimedBy != nil {
			query += fmt.Sprintf(" AND claimed_by = $%d", argIndex)
			args = append(args, *find.ClaimedBy)
			argIndex++
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
	argIndex := 1

	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argIndex))
		args = append(args, val)
		argIndex++
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
	query += fmt.Sprintf(" WHERE id = $%d", argIndex)
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

// MarkTaskReady transitions a task from not_started to ready, inserts its
// outbox row and appends a task_marked_ready event atomically.
func (d *DB) MarkTaskReady(ctx context.Context, taskExecutionID store.UUID, workerID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE task_executions SET status = 'ready' WHERE id = $1 AND status = 'not_started'`,
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

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_outbox (id, task_execution_id, created_at) VALUES (gen_random_uuid(), $1, now())`,
		taskExecutionID,
	); err != nil {
		return errors.Wrap(err, "failed to insert outbox row")
	}

	var pipelineID string
	if err := tx.QueryRowContext(ctx,
		`SELECT pipeline_execution_id FROM task_executions WHERE id = $1`, taskExecutionID,
	).Scan(&pipelineID); err != nil {
		return errors.Wrap(err, "failed to look up pipeline for event")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO execution_events (id, pipeline_execution_id, task_execution_id, event_type, worker_id, created_at)
		 VALUES (gen_random_uuid(), $1, $2, 'task_marked_ready', $3, now())`,
		pipelineID, taskExecutionID, workerID,
	); err != nil {
		return errors.Wrap(err, "failed to append task_marked_ready event")
	}

	// NOTIFY is transactional in Postgres: it is only delivered to listeners
	// once this transaction commits, so the push dispatcher never wakes for
	// a row it can't yet see.
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, '')`, NotifyChannel); err != nil {
		return errors.Wrap(err, "failed to notify task ready")
	}

	return errors.Wrap(tx.Commit(), "failed to commit mark-ready transaction")
}

// ClaimReadyTasks selects up to n outbox rows with SELECT ... FOR UPDATE
// SKIP LOCKED so concurrent callers never observe the same row, transitions
// the underlying tasks to running, and deletes the claimed outbox rows.
func (d *DB) ClaimReadyTasks(ctx context.Context, n int, workerID string, now time.Time) ([]*store.TaskExecution, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT task_execution_id FROM task_outbox
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
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
		te, err := scanTaskExecution(tx.QueryRowContext(ctx, `
			UPDATE task_executions
			SET status = 'running', sub_status = 'active', claimed_at = $2, claimed_by = $3, started_at = COALESCE(started_at, $2)
			WHERE id = $1 AND status = 'ready'
			RETURNING `+taskExecutionColumns, id, now, workerID,
		))
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to claim task execution")
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM task_outbox WHERE task_execution_id = $1`, id); err != nil {
			return nil, errors.Wrap(err, "failed to delete claimed outbox row")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO execution_events (id, pipeline_execution_id, task_execution_id, event_type, worker_id, created_at)
			VALUES (gen_random_uuid(), $1, $2, 'task_claimed', $3, $4)
		`, te.PipelineExecutionID, te.ID, workerID, now); err != nil {
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
		WHERE created_at < $1
		AND task_execution_id IN (SELECT id FROM task_executions WHERE status != 'ready')
	`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reap stale outbox rows")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "failed to count reaped rows")
}

func (d *DB) ListOrphanCandidates(ctx context.Context, heartbeatCutoff time.Time, liveWorkers []string) ([]*store.TaskExecution, error) {
	query := `SELECT ` + taskExecutionColumns + ` FROM task_executions
		WHERE status = 'running' AND claimed_at < $1`
	args := []interface{}{heartbeatCutoff}
	if len(liveWorkers) > 0 {
		query += ` AND (claimed_by IS NULL OR NOT (claimed_by = ANY($2)))`
		args = append(args, pq.Array(liveWorkers))
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
