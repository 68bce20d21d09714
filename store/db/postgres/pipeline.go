package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/store"
)

func (d *DB) CreatePipelineExecution(ctx context.Context, pe *store.PipelineExecution) error {
	query := `
		INSERT INTO pipeline_executions (id, workflow_name, workflow_version, status, started_at, completed_at, context_id, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := d.db.ExecContext(ctx, query,
		pe.ID, pe.WorkflowName, pe.WorkflowVersion, pe.Status, pe.StartedAt, pe.CompletedAt, pe.ContextID, pe.Error,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create pipeline execution")
	}
	return nil
}

func (d *DB) GetPipelineExecution(ctx context.Context, id store.UUID) (*store.PipelineExecution, error) {
	query := `
		SELECT id, workflow_name, workflow_version, status, started_at, completed_at, context_id, error
		FROM pipeline_executions WHERE id = $1
	`
	var pe store.PipelineExecution
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&pe.ID, &pe.WorkflowName, &pe.WorkflowVersion, &pe.Status, &pe.StartedAt, &pe.CompletedAt, &pe.ContextID, &pe.Error,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get pipeline execution")
	}
	return &pe, nil
}

func (d *DB) ListPipelineExecutions(ctx context.Context, find *store.FindPipelineExecution) ([]*store.PipelineExecution, error) {
	query := `
		SELECT id, workflow_name, workflow_version, status, started_at, completed_at, context_id, error
		FROM pipeline_executions WHERE 1=1
	`
	var args []interface{}
	argIndex := 1
	if find != nil {
		if find.ID != nil {
			query += fmt.Sprintf(" AND id = $%d", argIndex)
			args = append(args, *find.ID)
			argIndex++
		}
		if find.WorkflowName != nil {
			query += fmt.Sprintf(" AND workflow_name = $%d", argIndex)
			args = append(args, *find.WorkflowName)
			argIndex++
		}
		if find.Status != nil {
			query += fmt.Sprintf(" AND status = $%d", argIndex)
			args = append(args, *find.Status)
			argIndex++
		}
	}
	query += " ORDER BY started_at DESC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pipeline executions")
	}
	defer rows.Close()

	var out []*store.PipelineExecution
	for rows.Next() {
		var pe store.PipelineExecution
		if err := rows.Scan(&pe.ID, &pe.WorkflowName, &pe.WorkflowVersion, &pe.Status, &pe.StartedAt, &pe.CompletedAt, &pe.ContextID, &pe.Error); err != nil {
			return nil, errors.Wrap(err, "failed to scan pipeline execution")
		}
		out = append(out, &pe)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list pipeline executions")
	}
	return out, nil
}

func (d *DB) UpdatePipelineExecution(ctx context.Context, upd *store.UpdatePipelineExecution) error {
	query := "UPDATE pipeline_executions SET "
	var args []interface{}
	argIndex := 1
	var sets []string

	if upd.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *upd.Status)
		argIndex++
	}
	if upd.CompletedAt != nil {
		sets = append(sets, fmt.Sprintf("completed_at = $%d", argIndex))
		args = append(args, *upd.CompletedAt)
		argIndex++
	}
	if upd.ContextID != nil {
		sets = append(sets, fmt.Sprintf("context_id = $%d", argIndex))
		args = append(args, *upd.ContextID)
		argIndex++
	}
	if upd.Error != nil {
		sets = append(sets, fmt.Sprintf("error = $%d", argIndex))
		args = append(args, *upd.Error)
		argIndex++
	}
	if len(sets) == 0 {
		return nil
	}
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
		return errors.Wrap(err, "failed to update pipeline execution")
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

func (d *DB) ListClosablePipelines(ctx context.Context) ([]*store.PipelineExecution, error) {
	query := `
		SELECT p.id, p.workflow_name, p.workflow_version, p.status, p.started_at, p.completed_at, p.context_id, p.error
		FROM pipeline_executions p
		WHERE p.status = 'running'
		AND NOT EXISTS (
			SELECT 1 FROM task_executions t
			WHERE t.pipeline_execution_id = p.id
			AND t.status NOT IN ('completed', 'failed', 'skipped', 'abandoned')
		)
	`
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list closable pipelines")
	}
	defer rows.Close()

	var out []*store.PipelineExecution
	for rows.Next() {
		var pe store.PipelineExecution
		if err := rows.Scan(&pe.ID, &pe.WorkflowName, &pe.WorkflowVersion, &pe.Status, &pe.StartedAt, &pe.CompletedAt, &pe.ContextID, &pe.Error); err != nil {
			return nil, errors.Wrap(err, "failed to scan pipeline execution")
		}
		out = append(out, &pe)
	}
	return out, rows.Err()
}
