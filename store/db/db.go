// Package db selects the concrete store.Driver implementation for a
// configured backend name.
package db

import (
	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/store"
	"github.com/colliery-io/cloacina-go/store/db/postgres"
	"github.com/colliery-io/cloacina-go/store/db/sqlite"
)

// NewDriver constructs the store.Driver for backend ("postgres" or
// "sqlite") against dsn.
func NewDriver(backend, dsn string) (store.Driver, error) {
	switch backend {
	case "postgres":
		return postgres.NewDB(dsn)
	case "sqlite":
		return sqlite.NewDB(dsn)
	default:
		return nil, errors.Errorf("unsupported database backend: %s", backend)
	}
}
