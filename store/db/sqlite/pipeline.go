package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/store"
)

func (d *DB) CreatePipelineExecution(ctx context.Context, pe *store.PipelineExecution) error {
	query := `
		INSERT INTO pipeline_executions (id, workflow_name, workflow_version, status, started_at, completed_at, context_id, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, query,
		pe.ID, pe.WorkflowName, pe.WorkflowVersion, pe.Status, pe.StartedAt, pe.CompletedAt, pe.ContextID, pe.Error,
	)
	return errors.Wrap(err, "failed to create pipeline execution")
}

func (d *DB) GetPipelineExecution(ctx context.Context, id store.UUID) (*store.PipelineExecution, error) {
	query := `
		SELECT id, workflow_name, workflow_version, status, started_at, completed_at, context_id, error
		FROM pipeline_executions WHERE id = ?
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
	if find != nil {
		if find.ID != nil {
			query += " AND id = ?"
			args = append(args, *find.ID)
		}
		if find.WorkflowName != nil {
			query += " AND workflow_name = ?"
			args = append(args, *find.WorkflowName)
		}
		if find.Status != nil {
			query += " AND status = ?"
			args = append(args, *find.Status)
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
	return out, rows.Err()
}

func (d *DB) UpdatePipelineExecution(ctx context.Context, upd *store.UpdatePipelineExecution) error {
	var sets []string
	var args []interface{}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}
	if upd.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *upd.CompletedAt)
	}
	if upd.ContextID != nil {
		sets = append(sets, "context_id = ?")
		args = append(args, *upd.ContextID)
	}
	if upd.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *upd.Error)
	}
	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE pipeline_executions SET "
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
