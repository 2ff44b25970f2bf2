// Package warehouse defines the analytical-warehouse client contract, the
// backend registry, and the batch upsert loader built on top of them.
//
// A backend implements Client in terms of five primitives: get table
// schema, create table (idempotent), chunked bulk load with a write mode,
// execute a query and wait (reporting rows affected or returning rows),
// and delete table. The loader is written entirely against this interface;
// backend packages register constructors at init time and are pulled in by
// blank-importing warehouse/all.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"adsync/internal/schema"
	"adsync/pkg/records"
)

// WriteMode selects bulk-load semantics for one chunk.
type WriteMode string

const (
	// WriteTruncate replaces the table's contents with the chunk.
	WriteTruncate WriteMode = "truncate"
	// WriteAppend adds the chunk to the table's contents.
	WriteAppend WriteMode = "append"
)

// ErrTableNotFound is returned by TableSchema for a missing table.
var ErrTableNotFound = errors.New("table not found")

// Column describes one column of a warehouse table.
type Column struct {
	Name     string
	Kind     schema.Kind
	Nullable bool
	Repeated bool
}

// TableSchema is an ordered column list plus the optional identity key.
// Keys is consulted by backends whose merge strategy needs a unique
// constraint on the target (sqlite, mysql); others ignore it.
type TableSchema struct {
	Columns []Column
	Keys    []string
}

// Names returns the column names in order.
func (ts TableSchema) Names() []string {
	out := make([]string, len(ts.Columns))
	for i, c := range ts.Columns {
		out[i] = c.Name
	}
	return out
}

// FromFields converts registry fields into a table schema.
func FromFields(fields []schema.Field, keys []string) TableSchema {
	ts := TableSchema{Keys: append([]string(nil), keys...)}
	ts.Columns = make([]Column, len(fields))
	for i, f := range fields {
		ts.Columns[i] = Column{Name: f.Name, Kind: f.Kind, Nullable: f.Nullable, Repeated: f.Repeated}
	}
	return ts
}

// Client is the warehouse access contract the loader runs on.
//
// Implementations must be safe for sequential use by a single loader
// invocation; no concurrency guarantees are required.
type Client interface {
	// TableSchema fetches the target's column shape, or an error wrapping
	// ErrTableNotFound when the table does not exist.
	TableSchema(ctx context.Context, table string) (TableSchema, error)

	// CreateTable creates the table with the given shape. An existing table
	// is left untouched.
	CreateTable(ctx context.Context, table string, ts TableSchema) error

	// LoadChunk bulk-loads one chunk of records into the table. The mode of
	// the first chunk of a load truncates prior contents; later chunks
	// append.
	LoadChunk(ctx context.Context, table string, ts TableSchema, recs []records.Record, mode WriteMode) error

	// RunQuery executes a DML statement, waits for completion, and reports
	// the number of rows affected where the backend exposes it.
	RunQuery(ctx context.Context, query string) (int64, error)

	// QueryRows executes a row-returning query and waits for completion.
	QueryRows(ctx context.Context, query string) ([]records.Record, error)

	// DeleteTable drops the table. A missing table is not an error.
	DeleteTable(ctx context.Context, table string) error

	// MergeSQL renders the backend's single-statement merge: match staging
	// rows to target rows on the key columns, update every non-key column
	// on match, insert on no match.
	MergeSQL(target, staging string, keys, nonKeys []string) string

	// UpdateMergeSQL renders an update-only merge (no insert clause).
	UpdateMergeSQL(target, staging string, keys, nonKeys []string) string

	// Close releases the backend's resources.
	Close()
}

// Config selects and parameterizes a backend.
type Config struct {
	// Kind names a registered backend: bigquery, postgres, mssql, sqlite,
	// mysql.
	Kind string

	// DSN is the connection string for SQL backends.
	DSN string

	// Project, Dataset and Location configure the bigquery backend.
	Project  string
	Dataset  string
	Location string

	// Credentials holds service-account JSON for the bigquery backend.
	// Empty means application-default credentials.
	Credentials []byte
}

// Constructor builds a Client from a Config.
type Constructor func(ctx context.Context, cfg Config) (Client, error)

var (
	regMu        sync.RWMutex
	constructors = map[string]Constructor{}
)

// Register installs (or replaces) the constructor for a backend kind. It is
// called from backend packages' init functions.
func Register(kind string, ctor Constructor) {
	regMu.Lock()
	defer regMu.Unlock()
	constructors[kind] = ctor
}

// Open builds the Client registered for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Client, error) {
	regMu.RLock()
	ctor, ok := constructors[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no warehouse backend registered for kind=%q (registered: %v)", cfg.Kind, Kinds())
	}
	return ctor(ctx, cfg)
}

// Kinds returns the registered backend kinds, sorted, for diagnostics.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(constructors))
	for k := range constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
