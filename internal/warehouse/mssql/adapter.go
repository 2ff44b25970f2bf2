package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/microsoft/go-mssqldb/msdsn"

	"adsync/internal/warehouse"
)

// openDB is a test hook that points at sql.Open by default.
var openDB = sql.Open

var _ warehouse.Client = (*Client)(nil)

// init registers the "mssql" backend with the warehouse factory. The
// config's Dataset carries the schema namespace and defaults to "dbo".
func init() {
	warehouse.Register("mssql", func(ctx context.Context, cfg warehouse.Config) (warehouse.Client, error) {
		// Validate the DSN early to fail fast on obvious mistakes.
		if _, err := msdsn.Parse(cfg.DSN); err != nil {
			return nil, fmt.Errorf("mssql dsn: %w", err)
		}
		db, err := openDB("sqlserver", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("mssql: open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("mssql: ping: %w", err)
		}
		return NewClient(db, cfg.Dataset), nil
	})
}
