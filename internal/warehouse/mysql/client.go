// Package mysql implements a MySQL-backed warehouse.Client using
// database/sql. The reconciliation step relies on INSERT ... ON DUPLICATE
// KEY UPDATE, which needs the identity key declared as the target's primary
// key.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"adsync/internal/schema"
	"adsync/internal/warehouse"
	"adsync/pkg/records"
)

// Client is a MySQL-backed implementation of warehouse.Client. Tables live
// in the connection's default database.
type Client struct {
	db *sql.DB
}

// NewClient wraps an open connection pool.
func NewClient(db *sql.DB) *Client {
	return &Client{db: db}
}

// TableSchema reads the table's shape from information_schema of the
// connection's current database.
func (c *Client) TableSchema(ctx context.Context, table string) (warehouse.TableSchema, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_KEY
		 FROM information_schema.COLUMNS
		 WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		 ORDER BY ORDINAL_POSITION`, table)
	if err != nil {
		return warehouse.TableSchema{}, fmt.Errorf("mysql: columns of %s: %w", table, err)
	}
	defer rows.Close()

	var ts warehouse.TableSchema
	for rows.Next() {
		var name, dataType, nullable, key string
		if err := rows.Scan(&name, &dataType, &nullable, &key); err != nil {
			return warehouse.TableSchema{}, fmt.Errorf("mysql: scan column: %w", err)
		}
		ts.Columns = append(ts.Columns, columnFromMy(name, dataType, nullable == "YES"))
		if key == "PRI" {
			ts.Keys = append(ts.Keys, name)
		}
	}
	if err := rows.Err(); err != nil {
		return warehouse.TableSchema{}, fmt.Errorf("mysql: columns of %s: %w", table, err)
	}
	if len(ts.Columns) == 0 {
		return warehouse.TableSchema{}, fmt.Errorf("%w: %s", warehouse.ErrTableNotFound, table)
	}
	return ts, nil
}

// CreateTable creates the table if it does not already exist.
func (c *Client) CreateTable(ctx context.Context, table string, ts warehouse.TableSchema) error {
	if _, err := c.db.ExecContext(ctx, createSQL(table, ts)); err != nil {
		return fmt.Errorf("mysql: create %s: %w", table, err)
	}
	return nil
}

// LoadChunk inserts recs inside a single transaction. Truncate mode empties
// the table first.
func (c *Client) LoadChunk(ctx context.Context, table string, ts warehouse.TableSchema, recs []records.Record, mode warehouse.WriteMode) error {
	if mode == warehouse.WriteTruncate {
		if _, err := c.db.ExecContext(ctx, "TRUNCATE TABLE "+myIdent(table)); err != nil {
			return fmt.Errorf("mysql: truncate %s: %w", table, err)
		}
	}
	if len(recs) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mysql: begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	cols := ts.Names()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		myIdent(table), strings.Join(mapIdent(cols), ", "), placeholders))
	if err != nil {
		rollback()
		return fmt.Errorf("mysql: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range recs {
		row, err := warehouse.RowValues(ts, rec)
		if err != nil {
			rollback()
			return fmt.Errorf("mysql: row %d for %s: %w", i, table, err)
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			rollback()
			return fmt.Errorf("mysql: insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql: commit: %w", err)
	}
	return nil
}

// RunQuery executes sql and reports affected rows. MySQL counts an upserted
// row twice when it is updated rather than inserted.
func (c *Client) RunQuery(ctx context.Context, query string) (int64, error) {
	res, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("mysql: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mysql: rows affected: %w", err)
	}
	return n, nil
}

// QueryRows executes sql and materializes every result row.
func (c *Client) QueryRows(ctx context.Context, query string) ([]records.Record, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("mysql: query: %w", err)
	}
	defer rows.Close()
	return warehouse.ScanRows(rows)
}

// DeleteTable drops the table; a missing table is not an error.
func (c *Client) DeleteTable(ctx context.Context, table string) error {
	if _, err := c.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+myIdent(table)); err != nil {
		return fmt.Errorf("mysql: drop %s: %w", table, err)
	}
	return nil
}

// MergeSQL builds an upsert from the staging table. Source columns in the
// update clause are qualified with the staging alias, which MySQL resolves
// against the SELECT.
func (c *Client) MergeSQL(target, staging string, keys, nonKeys []string) string {
	all := append(append([]string{}, keys...), nonKeys...)
	sets := make([]string, len(nonKeys))
	for i, col := range nonKeys {
		sets[i] = fmt.Sprintf("%s.%s = S.%s", myIdent(target), myIdent(col), myIdent(col))
	}
	selected := make([]string, len(all))
	for i, col := range all {
		selected[i] = "S." + myIdent(col)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s)\nSELECT %s FROM %s AS S\nON DUPLICATE KEY UPDATE %s",
		myIdent(target), strings.Join(mapIdent(all), ", "),
		strings.Join(selected, ", "), myIdent(staging),
		strings.Join(sets, ", "))
}

// UpdateMergeSQL applies staged values to matching rows only.
func (c *Client) UpdateMergeSQL(target, staging string, keys, nonKeys []string) string {
	sets := make([]string, len(nonKeys))
	for i, col := range nonKeys {
		sets[i] = fmt.Sprintf("T.%s = S.%s", myIdent(col), myIdent(col))
	}
	conds := make([]string, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("T.%s = S.%s", myIdent(k), myIdent(k))
	}
	return fmt.Sprintf(
		"UPDATE %s AS T\nINNER JOIN %s AS S ON %s\nSET %s",
		myIdent(target), myIdent(staging),
		strings.Join(conds, " AND "), strings.Join(sets, ", "))
}

// Close closes the connection pool.
func (c *Client) Close() {
	_ = c.db.Close()
}

func createSQL(table string, ts warehouse.TableSchema) string {
	lines := make([]string, 0, len(ts.Columns)+1)
	for _, col := range ts.Columns {
		line := "  " + myIdent(col.Name) + " " + columnType(col)
		if !col.Nullable && !col.Repeated {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	if len(ts.Keys) > 0 {
		lines = append(lines, "  PRIMARY KEY ("+strings.Join(mapIdent(ts.Keys), ", ")+")")
	}
	return "CREATE TABLE IF NOT EXISTS " + myIdent(table) + " (\n" + strings.Join(lines, ",\n") + "\n)"
}

func columnType(col warehouse.Column) string {
	if col.Repeated {
		return "JSON"
	}
	switch col.Kind {
	case schema.Int64:
		return "BIGINT"
	case schema.Float64:
		return "DOUBLE"
	case schema.Date:
		return "DATE"
	default:
		return "VARCHAR(255)"
	}
}

func columnFromMy(name, dataType string, nullable bool) warehouse.Column {
	col := warehouse.Column{Name: name, Nullable: nullable}
	switch strings.ToLower(dataType) {
	case "bigint", "int", "smallint", "tinyint", "mediumint":
		col.Kind = schema.Int64
	case "double", "float", "decimal":
		col.Kind = schema.Float64
	case "date":
		col.Kind = schema.Date
	case "json":
		col.Kind = schema.String
		col.Repeated = true
	default:
		col.Kind = schema.String
	}
	return col
}

// myIdent quotes an identifier with backticks, escaping embedded ones.
func myIdent(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = myIdent(c)
	}
	return out
}
