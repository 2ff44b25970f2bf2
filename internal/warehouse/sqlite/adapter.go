package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"adsync/internal/warehouse"
)

// openDB is a test hook that points at sql.Open by default.
var openDB = sql.Open

var _ warehouse.Client = (*Client)(nil)

// init registers the "sqlite" backend with the warehouse factory. The DSN
// is passed straight to database/sql, e.g. "file:ads.db?cache=shared" or a
// bare path.
func init() {
	warehouse.Register("sqlite", func(ctx context.Context, cfg warehouse.Config) (warehouse.Client, error) {
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("sqlite: DSN must not be empty")
		}
		db, err := openDB("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite: open: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: ping: %w", err)
		}
		_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
		return NewClient(db), nil
	})
}
