// Package sqlite implements a SQLite-backed warehouse.Client using
// database/sql. There is no bulk-load API, so chunk loads run batched
// INSERTs inside a transaction; the reconciliation step uses INSERT ... ON
// CONFLICT, which needs the identity key declared as the target's primary
// key.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"adsync/internal/schema"
	"adsync/internal/warehouse"
	"adsync/pkg/records"
)

// Client is a SQLite-backed implementation of warehouse.Client.
type Client struct {
	db *sql.DB
}

// NewClient wraps an open connection pool.
func NewClient(db *sql.DB) *Client {
	return &Client{db: db}
}

// TableSchema reads the table's shape from pragma_table_info. SQLite's type
// system cannot express dates or nested groups, so those columns come back
// as plain strings.
func (c *Client) TableSchema(ctx context.Context, table string) (warehouse.TableSchema, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return warehouse.TableSchema{}, fmt.Errorf("sqlite: table_info of %s: %w", table, err)
	}
	defer rows.Close()

	var ts warehouse.TableSchema
	for rows.Next() {
		var name, dataType string
		var notNull, pk int
		if err := rows.Scan(&name, &dataType, &notNull, &pk); err != nil {
			return warehouse.TableSchema{}, fmt.Errorf("sqlite: scan column: %w", err)
		}
		ts.Columns = append(ts.Columns, columnFromLite(name, dataType, notNull == 0))
		if pk > 0 {
			ts.Keys = append(ts.Keys, name)
		}
	}
	if err := rows.Err(); err != nil {
		return warehouse.TableSchema{}, fmt.Errorf("sqlite: table_info of %s: %w", table, err)
	}
	if len(ts.Columns) == 0 {
		return warehouse.TableSchema{}, fmt.Errorf("%w: %s", warehouse.ErrTableNotFound, table)
	}
	return ts, nil
}

// CreateTable creates the table if it does not already exist.
func (c *Client) CreateTable(ctx context.Context, table string, ts warehouse.TableSchema) error {
	if _, err := c.db.ExecContext(ctx, createSQL(table, ts)); err != nil {
		return fmt.Errorf("sqlite: create %s: %w", table, err)
	}
	return nil
}

// LoadChunk inserts recs inside a single transaction. Truncate mode empties
// the table first; SQLite has no TRUNCATE, so it is a DELETE.
func (c *Client) LoadChunk(ctx context.Context, table string, ts warehouse.TableSchema, recs []records.Record, mode warehouse.WriteMode) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	if mode == warehouse.WriteTruncate {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+liteIdent(table)); err != nil {
			rollback()
			return fmt.Errorf("sqlite: truncate %s: %w", table, err)
		}
	}

	cols := ts.Names()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		liteIdent(table), strings.Join(mapIdent(cols), ", "), placeholders))
	if err != nil {
		rollback()
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range recs {
		row, err := warehouse.RowValues(ts, rec)
		if err != nil {
			rollback()
			return fmt.Errorf("sqlite: row %d for %s: %w", i, table, err)
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			rollback()
			return fmt.Errorf("sqlite: insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// RunQuery executes sql and reports affected rows.
func (c *Client) RunQuery(ctx context.Context, query string) (int64, error) {
	res, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("sqlite: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n, nil
}

// QueryRows executes sql and materializes every result row.
func (c *Client) QueryRows(ctx context.Context, query string) ([]records.Record, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()
	return warehouse.ScanRows(rows)
}

// DeleteTable drops the table; a missing table is not an error.
func (c *Client) DeleteTable(ctx context.Context, table string) error {
	if _, err := c.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+liteIdent(table)); err != nil {
		return fmt.Errorf("sqlite: drop %s: %w", table, err)
	}
	return nil
}

// MergeSQL builds an upsert from the staging table. The WHERE true guard is
// required by SQLite's grammar when ON CONFLICT follows a SELECT source.
func (c *Client) MergeSQL(target, staging string, keys, nonKeys []string) string {
	all := append(append([]string{}, keys...), nonKeys...)
	sets := make([]string, len(nonKeys))
	for i, col := range nonKeys {
		sets[i] = fmt.Sprintf("%s = excluded.%s", liteIdent(col), liteIdent(col))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s)\nSELECT %s FROM %s WHERE true\nON CONFLICT(%s) DO UPDATE SET %s",
		liteIdent(target), strings.Join(mapIdent(all), ", "),
		strings.Join(mapIdent(all), ", "), liteIdent(staging),
		strings.Join(mapIdent(keys), ", "), strings.Join(sets, ", "))
}

// UpdateMergeSQL applies staged values to matching rows only, using
// UPDATE ... FROM.
func (c *Client) UpdateMergeSQL(target, staging string, keys, nonKeys []string) string {
	sets := make([]string, len(nonKeys))
	for i, col := range nonKeys {
		sets[i] = fmt.Sprintf("%s = S.%s", liteIdent(col), liteIdent(col))
	}
	conds := make([]string, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("T.%s = S.%s", liteIdent(k), liteIdent(k))
	}
	return fmt.Sprintf(
		"UPDATE %s AS T\nSET %s\nFROM %s AS S\nWHERE %s",
		liteIdent(target), strings.Join(sets, ", "),
		liteIdent(staging), strings.Join(conds, " AND "))
}

// Close closes the connection pool.
func (c *Client) Close() {
	_ = c.db.Close()
}

func createSQL(table string, ts warehouse.TableSchema) string {
	lines := make([]string, 0, len(ts.Columns)+1)
	for _, col := range ts.Columns {
		line := "  " + liteIdent(col.Name) + " " + columnType(col)
		if !col.Nullable && !col.Repeated {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	if len(ts.Keys) > 0 {
		lines = append(lines, "  PRIMARY KEY ("+strings.Join(mapIdent(ts.Keys), ", ")+")")
	}
	return "CREATE TABLE IF NOT EXISTS " + liteIdent(table) + " (\n" + strings.Join(lines, ",\n") + "\n)"
}

func columnType(col warehouse.Column) string {
	if col.Repeated {
		return "TEXT"
	}
	switch col.Kind {
	case schema.Int64:
		return "INTEGER"
	case schema.Float64:
		return "REAL"
	default:
		return "TEXT"
	}
}

func columnFromLite(name, dataType string, nullable bool) warehouse.Column {
	col := warehouse.Column{Name: name, Nullable: nullable}
	switch strings.ToUpper(dataType) {
	case "INTEGER", "INT", "BIGINT":
		col.Kind = schema.Int64
	case "REAL", "FLOAT", "DOUBLE", "NUMERIC":
		col.Kind = schema.Float64
	default:
		col.Kind = schema.String
	}
	return col
}

// liteIdent quotes an identifier with double quotes, escaping embedded ones.
func liteIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = liteIdent(c)
	}
	return out
}
