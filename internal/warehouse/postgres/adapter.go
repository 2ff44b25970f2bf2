package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"adsync/internal/warehouse"
)

// newPool is a test hook that points at pgxpool.NewWithConfig by default.
// Tests replace it to avoid real connections.
var newPool = pgxpool.NewWithConfig

var _ warehouse.Client = (*Client)(nil)

// init registers the "postgres" backend with the warehouse factory. The
// config's Dataset carries the schema namespace and defaults to "public".
// The namespace is also installed as the connection search_path so that
// unqualified table names in raw queries resolve against it.
func init() {
	warehouse.Register("postgres", func(ctx context.Context, cfg warehouse.Config) (warehouse.Client, error) {
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres: DSN must be set")
		}
		pc, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse DSN: %w", err)
		}
		if cfg.Dataset != "" {
			pc.ConnConfig.RuntimeParams["search_path"] = cfg.Dataset
		}
		pool, err := newPool(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("postgres: pool: %w", err)
		}
		return NewClient(pool, cfg.Dataset), nil
	})
}
