// Package postgres implements store.Driver against a PostgreSQL database.
package postgres

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	_ "github.com/lib/pq"

	"github.com/colliery-io/cloacina-go/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is the PostgreSQL-backed store.Driver.
type DB struct {
	db  *sql.DB
	dsn string
}

// NewDB opens a connection pool against dsn. The caller is responsible for
// calling Migrate before first use.
func NewDB(dsn string) (store.Driver, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)

	return &DB{db: sqlDB, dsn: dsn}, nil
}

func (d *DB) GetDB() *sql.DB { return d.db }

func (d *DB) Close() error { return d.db.Close() }

// Migrate applies every pending embedded migration via goose.
func (d *DB) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "failed to set goose dialect")
	}
	if err := goose.UpContext(ctx, d.db, "migrations"); err != nil {
		return errors.Wrap(err, "failed to run postgres migrations")
	}
	return nil
}
