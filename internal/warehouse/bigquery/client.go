// Package bigquery implements a BigQuery-backed warehouse.Client. Chunk
// loads go through NDJSON load jobs rather than the streaming API so that
// freshly loaded staging rows are immediately visible to the merge job.
package bigquery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	bq "cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"adsync/internal/schema"
	"adsync/internal/warehouse"
	"adsync/pkg/records"
)

// Client is a BigQuery-backed implementation of warehouse.Client. All table
// names it receives are bare and resolved against the configured dataset.
type Client struct {
	bq       *bq.Client
	project  string
	dataset  string
	location string
}

// NewClient opens a BigQuery client for the given project and dataset.
func NewClient(ctx context.Context, bqc *bq.Client, project, dataset, location string) (*Client, error) {
	if project == "" || dataset == "" {
		return nil, fmt.Errorf("bigquery: project and dataset must be set")
	}
	return &Client{bq: bqc, project: project, dataset: dataset, location: location}, nil
}

func (c *Client) table(name string) *bq.Table {
	return c.bq.DatasetInProject(c.project, c.dataset).Table(name)
}

// fqn renders a backtick-quoted project.dataset.table reference for SQL.
func (c *Client) fqn(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", c.project, c.dataset, name)
}

// TableSchema fetches the table's metadata and converts its schema.
func (c *Client) TableSchema(ctx context.Context, table string) (warehouse.TableSchema, error) {
	md, err := c.table(table).Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return warehouse.TableSchema{}, fmt.Errorf("%w: %s", warehouse.ErrTableNotFound, table)
		}
		return warehouse.TableSchema{}, fmt.Errorf("bigquery: metadata of %s: %w", table, err)
	}
	return fromBQSchema(md.Schema), nil
}

// CreateTable creates the table if it does not already exist.
func (c *Client) CreateTable(ctx context.Context, table string, ts warehouse.TableSchema) error {
	md := &bq.TableMetadata{Schema: toBQSchema(ts)}
	if err := c.table(table).Create(ctx, md); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("bigquery: create %s: %w", table, err)
	}
	return nil
}

// LoadChunk encodes recs as NDJSON and runs a load job against the table.
func (c *Client) LoadChunk(ctx context.Context, table string, ts warehouse.TableSchema, recs []records.Record, mode warehouse.WriteMode) error {
	if len(recs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range recs {
		row, err := rowJSON(ts, rec)
		if err != nil {
			return fmt.Errorf("bigquery: encode row for %s: %w", table, err)
		}
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("bigquery: encode row for %s: %w", table, err)
		}
	}

	src := bq.NewReaderSource(&buf)
	src.SourceFormat = bq.JSON
	loader := c.table(table).LoaderFrom(src)
	loader.WriteDisposition = bq.WriteAppend
	if mode == warehouse.WriteTruncate {
		loader.WriteDisposition = bq.WriteTruncate
	}
	loader.Location = c.location

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("bigquery: load into %s: %w", table, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("bigquery: load into %s: %w", table, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("bigquery: load into %s: %w", table, err)
	}
	return nil
}

// RunQuery executes sql as a query job and reports DML-affected rows.
// Unqualified table names resolve against the configured dataset.
func (c *Client) RunQuery(ctx context.Context, sql string) (int64, error) {
	q := c.bq.Query(sql)
	q.Location = c.location
	q.DefaultProjectID = c.project
	q.DefaultDatasetID = c.dataset
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("bigquery: query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("bigquery: query: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("bigquery: query: %w", err)
	}
	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bq.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}

// QueryRows executes sql and materializes every result row. Unqualified
// table names resolve against the configured dataset.
func (c *Client) QueryRows(ctx context.Context, sql string) ([]records.Record, error) {
	q := c.bq.Query(sql)
	q.Location = c.location
	q.DefaultProjectID = c.project
	q.DefaultDatasetID = c.dataset
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery: query: %w", err)
	}
	var out []records.Record
	for {
		var row map[string]bq.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery: read row: %w", err)
		}
		rec := make(records.Record, len(row))
		for k, v := range row {
			rec[k] = fromBQValue(v)
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteTable drops the table; a missing table is not an error.
func (c *Client) DeleteTable(ctx context.Context, table string) error {
	if err := c.table(table).Delete(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("bigquery: delete %s: %w", table, err)
	}
	return nil
}

// MergeSQL builds the single-statement reconciliation of staging into target.
func (c *Client) MergeSQL(target, staging string, keys, nonKeys []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MERGE %s T\nUSING %s S\nON %s\n", c.fqn(target), c.fqn(staging), onClause(keys))
	b.WriteString("WHEN MATCHED THEN\n  UPDATE SET ")
	b.WriteString(setClause(nonKeys))
	b.WriteString("\nWHEN NOT MATCHED THEN\n  INSERT (")
	all := append(append([]string{}, keys...), nonKeys...)
	b.WriteString(strings.Join(all, ", "))
	b.WriteString(")\n  VALUES (")
	for i, col := range all {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("S." + col)
	}
	b.WriteString(")")
	return b.String()
}

// UpdateMergeSQL is MergeSQL without the insert arm.
func (c *Client) UpdateMergeSQL(target, staging string, keys, nonKeys []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MERGE %s T\nUSING %s S\nON %s\n", c.fqn(target), c.fqn(staging), onClause(keys))
	b.WriteString("WHEN MATCHED THEN\n  UPDATE SET ")
	b.WriteString(setClause(nonKeys))
	return b.String()
}

// Close releases the underlying client.
func (c *Client) Close() {
	_ = c.bq.Close()
}

func onClause(keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("T.%s = S.%s", k, k)
	}
	return strings.Join(parts, " AND ")
}

func setClause(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("T.%s = S.%s", c, c)
	}
	return strings.Join(parts, ", ")
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// rowJSON projects rec onto the table's columns for an NDJSON load. Nested
// action groups stay nested; nil and absent values are omitted so BigQuery
// records them as NULL.
func rowJSON(ts warehouse.TableSchema, rec records.Record) (map[string]any, error) {
	row := make(map[string]any, len(ts.Columns))
	for _, col := range ts.Columns {
		v, ok := rec[col.Name]
		if !ok || v == nil {
			continue
		}
		if col.Repeated {
			elems, ok := v.([]map[string]any)
			if !ok {
				return nil, fmt.Errorf("column %s: expected action group, got %T", col.Name, v)
			}
			row[col.Name] = elems
			continue
		}
		row[col.Name] = v
	}
	return row, nil
}

// toBQSchema converts a table schema into the SDK's representation. Repeated
// columns become REPEATED RECORD fields holding action_type plus a typed
// value.
func toBQSchema(ts warehouse.TableSchema) bq.Schema {
	out := make(bq.Schema, 0, len(ts.Columns))
	for _, col := range ts.Columns {
		fs := &bq.FieldSchema{Name: col.Name, Required: !col.Nullable && !col.Repeated}
		if col.Repeated {
			fs.Type = bq.RecordFieldType
			fs.Repeated = true
			fs.Required = false
			fs.Schema = bq.Schema{
				{Name: "action_type", Type: bq.StringFieldType},
				{Name: "value", Type: scalarFieldType(col.Kind)},
			}
		} else {
			fs.Type = scalarFieldType(col.Kind)
		}
		out = append(out, fs)
	}
	return out
}

func scalarFieldType(k schema.Kind) bq.FieldType {
	switch k {
	case schema.Int64:
		return bq.IntegerFieldType
	case schema.Float64:
		return bq.FloatFieldType
	case schema.Date:
		return bq.DateFieldType
	default:
		return bq.StringFieldType
	}
}

// fromBQSchema converts SDK metadata back into the neutral representation.
func fromBQSchema(s bq.Schema) warehouse.TableSchema {
	ts := warehouse.TableSchema{Columns: make([]warehouse.Column, 0, len(s))}
	for _, fs := range s {
		col := warehouse.Column{Name: fs.Name, Nullable: !fs.Required}
		if fs.Type == bq.RecordFieldType && fs.Repeated {
			col.Repeated = true
			col.Kind = schema.String
			for _, sub := range fs.Schema {
				if sub.Name == "value" {
					col.Kind = scalarKind(sub.Type)
				}
			}
		} else {
			col.Kind = scalarKind(fs.Type)
		}
		ts.Columns = append(ts.Columns, col)
	}
	return ts
}

func scalarKind(t bq.FieldType) schema.Kind {
	switch t {
	case bq.IntegerFieldType:
		return schema.Int64
	case bq.FloatFieldType, bq.NumericFieldType:
		return schema.Float64
	case bq.DateFieldType:
		return schema.Date
	default:
		return schema.String
	}
}

// fromBQValue flattens SDK value types into plain record values.
func fromBQValue(v bq.Value) any {
	switch t := v.(type) {
	case civil.Date:
		return t.String()
	case []bq.Value:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBQValue(e)
		}
		return out
	case map[string]bq.Value:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = fromBQValue(e)
		}
		return out
	default:
		return v
	}
}
