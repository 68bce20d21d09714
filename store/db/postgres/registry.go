package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/store"
)

// SaveWorkflowPackage persists the package metadata row and its binary
// payload in one transaction; payload.ID is assigned by the caller so it
// can be referenced before the transaction commits.
func (d *DB) SaveWorkflowPackage(ctx context.Context, pkg *store.WorkflowPackage, payload *store.WorkflowRegistry) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_packages (id, package_name, version, description, author, metadata_json, storage_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (package_name, version) DO UPDATE SET
			description = EXCLUDED.description, author = EXCLUDED.author,
			metadata_json = EXCLUDED.metadata_json, storage_type = EXCLUDED.storage_type
	`, pkg.ID, pkg.PackageName, pkg.Version, pkg.Description, pkg.Author, pkg.MetadataJSON, pkg.StorageType, pkg.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to upsert workflow package")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_registries (id, package_id, data_bytes, created_at) VALUES ($1, $2, $3, $4)
	`, payload.ID, pkg.ID, payload.DataBytes, payload.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to insert workflow registry payload")
	}

	return errors.Wrap(tx.Commit(), "failed to commit workflow package save")
}

func (d *DB) GetWorkflowPackage(ctx context.Context, name, version string) (*store.WorkflowPackage, *store.WorkflowRegistry, error) {
	var pkg store.WorkflowPackage
	err := d.db.QueryRowContext(ctx, `
		SELECT id, package_name, version, description, author, metadata_json, storage_type, created_at
		FROM workflow_packages WHERE package_name = $1 AND version = $2
	`, name, version).Scan(&pkg.ID, &pkg.PackageName, &pkg.Version, &pkg.Description, &pkg.Author, &pkg.MetadataJSON, &pkg.StorageType, &pkg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, store.ErrNotFound
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get workflow package")
	}

	var payload store.WorkflowRegistry
	err = d.db.QueryRowContext(ctx, `
		SELECT id, data_bytes, created_at FROM workflow_registries WHERE package_id = $1
	`, pkg.ID).Scan(&payload.ID, &payload.DataBytes, &payload.CreatedAt)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get workflow registry payload")
	}

	return &pkg, &payload, nil
}

func (d *DB) ListWorkflowPackages(ctx context.Context) ([]*store.WorkflowPackage, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, package_name, version, description, author, metadata_json, storage_type, created_at
		FROM workflow_packages ORDER BY package_name, version
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list workflow packages")
	}
	defer rows.Close()

	var out []*store.WorkflowPackage
	for rows.Next() {
		var pkg store.WorkflowPackage
		if err := rows.Scan(&pkg.ID, &pkg.PackageName, &pkg.Version, &pkg.Description, &pkg.Author, &pkg.MetadataJSON, &pkg.StorageType, &pkg.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan workflow package")
		}
		out = append(out, &pkg)
	}
	return out, rows.Err()
}

func (d *DB) DeleteWorkflowPackage(ctx context.Context, id store.UUID) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_registries WHERE package_id = $1`, id); err != nil {
		return errors.Wrap(err, "failed to delete workflow registry payload")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_packages WHERE id = $1`, id); err != nil {
		return errors.Wrap(err, "failed to delete workflow package")
	}
	return errors.Wrap(tx.Commit(), "failed to commit workflow package delete")
}
