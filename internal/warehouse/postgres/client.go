// Package postgres implements a Postgres-backed warehouse.Client using pgx
// v5. Chunk loads use the COPY protocol; the reconciliation step relies on
// MERGE, so the server must be Postgres 15 or newer.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"adsync/internal/schema"
	"adsync/internal/warehouse"
	"adsync/pkg/records"
)

// Client is a Postgres-backed implementation of warehouse.Client. Bare table
// names are resolved against the configured namespace.
type Client struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewClient wraps an open pool. namespace defaults to "public".
func NewClient(pool *pgxpool.Pool, namespace string) *Client {
	if namespace == "" {
		namespace = "public"
	}
	return &Client{pool: pool, namespace: namespace}
}

// TableSchema reads the table's shape from information_schema.
func (c *Client) TableSchema(ctx context.Context, table string) (warehouse.TableSchema, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT column_name, data_type, is_nullable
		 FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`, c.namespace, table)
	if err != nil {
		return warehouse.TableSchema{}, fmt.Errorf("postgres: columns of %s: %w", table, err)
	}
	defer rows.Close()

	var ts warehouse.TableSchema
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return warehouse.TableSchema{}, fmt.Errorf("postgres: scan column: %w", err)
		}
		ts.Columns = append(ts.Columns, columnFromPG(name, dataType, nullable == "YES"))
	}
	if err := rows.Err(); err != nil {
		return warehouse.TableSchema{}, fmt.Errorf("postgres: columns of %s: %w", table, err)
	}
	if len(ts.Columns) == 0 {
		return warehouse.TableSchema{}, fmt.Errorf("%w: %s", warehouse.ErrTableNotFound, table)
	}
	return ts, nil
}

// CreateTable creates the table if it does not already exist.
func (c *Client) CreateTable(ctx context.Context, table string, ts warehouse.TableSchema) error {
	if _, err := c.pool.Exec(ctx, createSQL(c.fqn(table), ts)); err != nil {
		return fmt.Errorf("postgres: create %s: %w", table, pgDetail(err))
	}
	return nil
}

// LoadChunk copies recs into the table. Truncate mode empties it first.
func (c *Client) LoadChunk(ctx context.Context, table string, ts warehouse.TableSchema, recs []records.Record, mode warehouse.WriteMode) error {
	if mode == warehouse.WriteTruncate {
		if _, err := c.pool.Exec(ctx, "TRUNCATE TABLE "+c.fqn(table)); err != nil {
			return fmt.Errorf("postgres: truncate %s: %w", table, pgDetail(err))
		}
	}
	if len(recs) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		row, err := warehouse.RowValues(ts, rec)
		if err != nil {
			return fmt.Errorf("postgres: row for %s: %w", table, err)
		}
		rows = append(rows, row)
	}
	_, err := c.pool.CopyFrom(ctx,
		pgx.Identifier{c.namespace, table}, ts.Names(), pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("postgres: copy into %s: %w", table, pgDetail(err))
	}
	return nil
}

// RunQuery executes sql and reports affected rows.
func (c *Client) RunQuery(ctx context.Context, sql string) (int64, error) {
	tag, err := c.pool.Exec(ctx, sql)
	if err != nil {
		return 0, fmt.Errorf("postgres: exec: %w", pgDetail(err))
	}
	return tag.RowsAffected(), nil
}

// QueryRows executes sql and materializes every result row.
func (c *Client) QueryRows(ctx context.Context, sql string) ([]records.Record, error) {
	rows, err := c.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", pgDetail(err))
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	var out []records.Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres: read row: %w", err)
		}
		rec := make(records.Record, len(fds))
		for i, fd := range fds {
			rec[fd.Name] = fromPGValue(vals[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	return out, nil
}

// DeleteTable drops the table; a missing table is not an error.
func (c *Client) DeleteTable(ctx context.Context, table string) error {
	if _, err := c.pool.Exec(ctx, "DROP TABLE IF EXISTS "+c.fqn(table)); err != nil {
		return fmt.Errorf("postgres: drop %s: %w", table, err)
	}
	return nil
}

// MergeSQL builds a Postgres 15 MERGE. Target columns in the update arm are
// unqualified, as MERGE requires.
func (c *Client) MergeSQL(target, staging string, keys, nonKeys []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s T\nUSING %s S\nON %s\n", c.fqn(target), c.fqn(staging), onClause(keys))
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
		b.WriteString("S." + pgIdent(col))
	}
	b.WriteString(")")
	return b.String()
}

// UpdateMergeSQL is MergeSQL without the insert arm.
func (c *Client) UpdateMergeSQL(target, staging string, keys, nonKeys []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s T\nUSING %s S\nON %s\n", c.fqn(target), c.fqn(staging), onClause(keys))
	b.WriteString("WHEN MATCHED THEN\n  UPDATE SET ")
	b.WriteString(setClause(nonKeys))
	return b.String()
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}

func (c *Client) fqn(table string) string {
	return pgIdent(c.namespace) + "." + pgIdent(table)
}

func createSQL(fqn string, ts warehouse.TableSchema) string {
	lines := make([]string, 0, len(ts.Columns)+1)
	for _, col := range ts.Columns {
		line := "  " + pgIdent(col.Name) + " " + columnType(col)
		if !col.Nullable && !col.Repeated {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	if len(ts.Keys) > 0 {
		lines = append(lines, "  PRIMARY KEY ("+strings.Join(mapIdent(ts.Keys), ", ")+")")
	}
	return "CREATE TABLE IF NOT EXISTS " + fqn + " (\n" + strings.Join(lines, ",\n") + "\n)"
}

func columnType(col warehouse.Column) string {
	if col.Repeated {
		return "JSONB"
	}
	switch col.Kind {
	case schema.Int64:
		return "BIGINT"
	case schema.Float64:
		return "DOUBLE PRECISION"
	case schema.Date:
		return "DATE"
	default:
		return "TEXT"
	}
}

func columnFromPG(name, dataType string, nullable bool) warehouse.Column {
	col := warehouse.Column{Name: name, Nullable: nullable}
	switch strings.ToLower(dataType) {
	case "bigint", "integer", "smallint":
		col.Kind = schema.Int64
	case "double precision", "real", "numeric":
		col.Kind = schema.Float64
	case "date":
		col.Kind = schema.Date
	case "jsonb", "json":
		col.Kind = schema.String
		col.Repeated = true
	default:
		col.Kind = schema.String
	}
	return col
}

// fromPGValue flattens driver types into plain record values. DATE columns
// come back as midnight time.Time values and are rendered as date strings.
func fromPGValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format(schema.DateLayout)
		}
		return t.Format(time.RFC3339)
	case []byte:
		return string(t)
	default:
		return v
	}
}

// pgDetail surfaces the server's detail text, which carries the offending
// column and value on constraint and copy failures.
func pgDetail(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%s (%s): %w", pgErr.Detail, pgErr.SQLState(), err)
	}
	return err
}

func onClause(keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("T.%s = S.%s", pgIdent(k), pgIdent(k))
	}
	return strings.Join(parts, " AND ")
}

func setClause(cols []string) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprintf("%s = S.%s", pgIdent(col), pgIdent(col))
	}
	return strings.Join(parts, ", ")
}

// pgIdent safely quotes a single identifier segment.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
