package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/store"
)

func (d *DB) SaveContext(ctx context.Context, rec *store.ContextRecord) error {
	query := `
		INSERT INTO context_snapshots (id, value_json) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET value_json = EXCLUDED.value_json
	`
	_, err := d.db.ExecContext(ctx, query, rec.ID, rec.ValueJSON)
	return errors.Wrap(err, "failed to save context snapshot")
}

func (d *DB) GetContext(ctx context.Context, id store.UUID) (*store.ContextRecord, error) {
	var rec store.ContextRecord
	err := d.db.QueryRowContext(ctx, `SELECT id, value_json FROM context_snapshots WHERE id = $1`, id).
		Scan(&rec.ID, &rec.ValueJSON)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get context snapshot")
	}
	return &rec, nil
}
