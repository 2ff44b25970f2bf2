// Package mssql implements a SQL Server-backed warehouse.Client using the
// go-mssqldb bulk copy API for chunk loads and T-SQL MERGE for the
// reconciliation step.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"adsync/internal/schema"
	"adsync/internal/warehouse"
	"adsync/pkg/records"
)

// Client is a SQL Server-backed implementation of warehouse.Client. Bare
// table names are resolved against the configured schema, "dbo" by default.
type Client struct {
	db        *sql.DB
	namespace string
}

// NewClient wraps an open connection pool.
func NewClient(db *sql.DB, namespace string) *Client {
	if namespace == "" {
		namespace = "dbo"
	}
	return &Client{db: db, namespace: namespace}
}

// TableSchema reads the table's shape from INFORMATION_SCHEMA.
func (c *Client) TableSchema(ctx context.Context, table string) (warehouse.TableSchema, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE
		 FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
		 ORDER BY ORDINAL_POSITION`, c.namespace, table)
	if err != nil {
		return warehouse.TableSchema{}, fmt.Errorf("mssql: columns of %s: %w", table, err)
	}
	defer rows.Close()

	var ts warehouse.TableSchema
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return warehouse.TableSchema{}, fmt.Errorf("mssql: scan column: %w", err)
		}
		ts.Columns = append(ts.Columns, columnFromMS(name, dataType, nullable == "YES"))
	}
	if err := rows.Err(); err != nil {
		return warehouse.TableSchema{}, fmt.Errorf("mssql: columns of %s: %w", table, err)
	}
	if len(ts.Columns) == 0 {
		return warehouse.TableSchema{}, fmt.Errorf("%w: %s", warehouse.ErrTableNotFound, table)
	}
	return ts, nil
}

// CreateTable creates the table if it does not already exist.
func (c *Client) CreateTable(ctx context.Context, table string, ts warehouse.TableSchema) error {
	if _, err := c.db.ExecContext(ctx, createSQL(c.namespace, table, ts)); err != nil {
		return fmt.Errorf("mssql: create %s: %w", table, err)
	}
	return nil
}

// LoadChunk bulk-copies recs into the table. Truncate mode empties it first.
func (c *Client) LoadChunk(ctx context.Context, table string, ts warehouse.TableSchema, recs []records.Record, mode warehouse.WriteMode) error {
	if mode == warehouse.WriteTruncate {
		if _, err := c.db.ExecContext(ctx, "TRUNCATE TABLE "+c.fqn(table)); err != nil {
			return fmt.Errorf("mssql: truncate %s: %w", table, err)
		}
	}
	if len(recs) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mssql: begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	cols := ts.Names()
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(c.namespace+"."+table, mssql.BulkOptions{}, cols...))
	if err != nil {
		rollback()
		return fmt.Errorf("mssql: prepare bulk copy: %w", err)
	}
	for i, rec := range recs {
		row, err := warehouse.RowValues(ts, rec)
		if err != nil {
			_ = stmt.Close()
			rollback()
			return fmt.Errorf("mssql: row %d for %s: %w", i, table, err)
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = stmt.Close()
			rollback()
			return fmt.Errorf("mssql: bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx) // flush
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return fmt.Errorf("mssql: bulk finalize: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n != int64(len(recs)) {
		rollback()
		return fmt.Errorf("mssql: bulk copied %d of %d rows", n, len(recs))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mssql: commit: %w", err)
	}
	return nil
}

// RunQuery executes sql and reports affected rows.
func (c *Client) RunQuery(ctx context.Context, query string) (int64, error) {
	res, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("mssql: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mssql: rows affected: %w", err)
	}
	return n, nil
}

// QueryRows executes sql and materializes every result row.
func (c *Client) QueryRows(ctx context.Context, query string) ([]records.Record, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("mssql: query: %w", err)
	}
	defer rows.Close()
	return warehouse.ScanRows(rows)
}

// DeleteTable drops the table; a missing table is not an error.
func (c *Client) DeleteTable(ctx context.Context, table string) error {
	drop := fmt.Sprintf("IF OBJECT_ID(N'%s.%s', N'U') IS NOT NULL DROP TABLE %s",
		c.namespace, table, c.fqn(table))
	if _, err := c.db.ExecContext(ctx, drop); err != nil {
		return fmt.Errorf("mssql: drop %s: %w", table, err)
	}
	return nil
}

// MergeSQL builds a T-SQL MERGE. The statement must end with a semicolon or
// SQL Server rejects it.
func (c *Client) MergeSQL(target, staging string, keys, nonKeys []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MERGE %s AS T\nUSING %s AS S\nON %s\n", c.fqn(target), c.fqn(staging), onClause(keys))
	b.WriteString("WHEN MATCHED THEN\n  UPDATE SET ")
	b.WriteString(setClause(nonKeys))
	b.WriteString("\nWHEN NOT MATCHED THEN\n  INSERT (")
	all := append(append([]string{}, keys...), nonKeys...)
	b.WriteString(strings.Join(mapIdent(all), ", "))
	b.WriteString(")\n  VALUES (")
	for i, col := range all {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("S." + msIdent(col))
	}
	b.WriteString(");")
	return b.String()
}

// UpdateMergeSQL is MergeSQL without the insert arm.
func (c *Client) UpdateMergeSQL(target, staging string, keys, nonKeys []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MERGE %s AS T\nUSING %s AS S\nON %s\n", c.fqn(target), c.fqn(staging), onClause(keys))
	b.WriteString("WHEN MATCHED THEN\n  UPDATE SET ")
	b.WriteString(setClause(nonKeys))
	b.WriteString(";")
	return b.String()
}

// Close closes the connection pool.
func (c *Client) Close() {
	_ = c.db.Close()
}

func (c *Client) fqn(table string) string {
	return msIdent(c.namespace) + "." + msIdent(table)
}

func createSQL(namespace, table string, ts warehouse.TableSchema) string {
	lines := make([]string, 0, len(ts.Columns)+1)
	for _, col := range ts.Columns {
		line := "  " + msIdent(col.Name) + " " + columnType(col)
		if !col.Nullable && !col.Repeated {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	if len(ts.Keys) > 0 {
		lines = append(lines, "  PRIMARY KEY ("+strings.Join(mapIdent(ts.Keys), ", ")+")")
	}
	return fmt.Sprintf("IF OBJECT_ID(N'%s.%s', N'U') IS NULL\nCREATE TABLE %s (\n%s\n)",
		namespace, table, msIdent(namespace)+"."+msIdent(table), strings.Join(lines, ",\n"))
}

func columnType(col warehouse.Column) string {
	if col.Repeated {
		return "NVARCHAR(MAX)"
	}
	switch col.Kind {
	case schema.Int64:
		return "BIGINT"
	case schema.Float64:
		return "FLOAT"
	case schema.Date:
		return "DATE"
	default:
		return "NVARCHAR(255)"
	}
}

func columnFromMS(name, dataType string, nullable bool) warehouse.Column {
	col := warehouse.Column{Name: name, Nullable: nullable}
	switch strings.ToLower(dataType) {
	case "bigint", "int", "smallint", "tinyint":
		col.Kind = schema.Int64
	case "float", "real", "decimal", "numeric":
		col.Kind = schema.Float64
	case "date":
		col.Kind = schema.Date
	case "nvarchar", "varchar", "ntext", "text":
		col.Kind = schema.String
	default:
		col.Kind = schema.String
	}
	return col
}

func onClause(keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("T.%s = S.%s", msIdent(k), msIdent(k))
	}
	return strings.Join(parts, " AND ")
}

func setClause(cols []string) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprintf("T.%s = S.%s", msIdent(col), msIdent(col))
	}
	return strings.Join(parts, ", ")
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = msIdent(c)
	}
	return out
}
