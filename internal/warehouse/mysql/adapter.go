package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"adsync/internal/warehouse"
)

// openDB is a test hook that points at sql.Open by default.
var openDB = sql.Open

var _ warehouse.Client = (*Client)(nil)

// init registers the "mysql" backend with the warehouse factory. The DSN
// must name a default database, e.g. "user:pass@tcp(host:3306)/ads".
func init() {
	warehouse.Register("mysql", func(ctx context.Context, cfg warehouse.Config) (warehouse.Client, error) {
		mcfg, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("mysql dsn: %w", err)
		}
		if mcfg.DBName == "" {
			return nil, fmt.Errorf("mysql dsn: missing database name")
		}
		db, err := openDB("mysql", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("mysql: open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("mysql: ping: %w", err)
		}
		return NewClient(db), nil
	})
}
