// Package sqlite implements store.Driver against an embedded SQLite
// database, intended for single-process development and small deployments
// where a standalone PostgreSQL server is unavailable.
package sqlite

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	_ "github.com/mattn/go-sqlite3"

	"github.com/colliery-io/cloacina-go/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ============================================================================
// SQLITE SUPPORT POLICY
// ============================================================================
// SQLite has no row-level locking, so ClaimReadyTasks cannot use SELECT ...
// FOR UPDATE SKIP LOCKED the way the postgres driver does. Instead the whole
// claim operation runs inside a single serialized (BEGIN IMMEDIATE-style)
// transaction guarded by a busy_timeout, which gives the same external
// guarantee -- no task returned to two callers -- at the cost of claims
// serializing process-wide rather than row-wide. Acceptable for the
// single-process deployment this backend targets.
// ============================================================================

type DB struct {
	db *sql.DB
}

// NewDB opens a database specified by dsn (a file path, or ":memory:").
func NewDB(dsn string) (store.Driver, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
	}
	for _, pragma := range pragmas {
		if _, err := sqliteDB.Exec(pragma); err != nil {
			return nil, errors.Wrapf(err, "failed to set pragma: %s", pragma)
		}
	}

	// SQLite serializes writers at the connection level; a single
	// connection avoids SQLITE_BUSY races between the Go pool's own
	// connections when claims and writes overlap.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB}, nil
}

func (d *DB) GetDB() *sql.DB { return d.db }

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return errors.Wrap(err, "failed to set goose dialect")
	}
	if err := goose.UpContext(ctx, d.db, "migrations"); err != nil {
		return errors.Wrap(err, "failed to run sqlite migrations")
	}
	return nil
}
