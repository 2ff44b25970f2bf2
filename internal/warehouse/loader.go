package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"adsync/internal/schema"
	"adsync/pkg/records"
)

// Loader failure markers, testable with errors.Is. The underlying cause is
// wrapped alongside.
var (
	// ErrStagingFailed covers staging-table creation and chunk loads.
	ErrStagingFailed = errors.New("staging failed")
	// ErrMergeFailed covers the merge statement itself.
	ErrMergeFailed = errors.New("merge failed")
	// ErrUnknownTable is a precondition failure: the target does not exist
	// and is not ensurable from a registered schema.
	ErrUnknownTable = errors.New("unknown target table")
	// ErrNoUsableRecords means every input record was missing part of its
	// identity key.
	ErrNoUsableRecords = errors.New("no records with a complete identity key")
)

// Upsert result statuses.
const (
	StatusSuccess   = "success"
	StatusNoRecords = "no_records"
	StatusFailed    = "failed"
)

// Result reports one loader invocation.
type Result struct {
	// Processed counts the records staged for the merge (input minus
	// identity-key rejects).
	Processed int `json:"processed"`
	// RowsAffected is the merge's matched-plus-inserted row count.
	RowsAffected int64 `json:"rows_affected"`
	// Rejected counts records dropped pre-staging for an incomplete
	// identity key.
	Rejected int `json:"rejected,omitempty"`
	// Updated and Inserted are populated by the two-phase mode only.
	Updated  int    `json:"updated,omitempty"`
	Inserted int    `json:"inserted,omitempty"`
	Status   string `json:"status"`
}

// UpsertSpec names the target of a loader invocation.
type UpsertSpec struct {
	// Table is the target table name, optionally qualified with a dataset
	// or schema prefix.
	Table string

	// SchemaName, when non-empty, marks the target ensurable: a missing
	// table is created from this registered schema instead of failing.
	SchemaName string

	// KeyColumns is the identity key. Records missing any of these are
	// rejected pre-staging.
	KeyColumns []string
}

// Loader reconciles transformed record batches into a warehouse table via
// a staging table and a single set-based merge.
//
// One invocation is strictly sequential: create staging, load chunks,
// merge, drop staging. Callers serialize invocations per target table;
// staging names are timestamped per invocation but only probabilistically
// unique under concurrent callers.
type Loader struct {
	client    Client
	reg       *schema.Registry
	batchSize int

	// now is a test seam for staging-name stamps.
	now func() time.Time
}

// NewLoader builds a Loader. batchSize must be at least 1.
func NewLoader(client Client, reg *schema.Registry, batchSize int) (*Loader, error) {
	if client == nil {
		return nil, fmt.Errorf("loader: nil client")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("loader: batch size %d, must be >= 1", batchSize)
	}
	return &Loader{client: client, reg: reg, batchSize: batchSize, now: time.Now}, nil
}

// Upsert stages recs into a fresh staging table in chunks, merges the whole
// staged set into the target with one statement, and drops the staging
// table. Empty input is a no-op success with Status no_records. Records
// missing identity-key fields are rejected pre-staging and counted in
// Result.Rejected.
//
// On failure the staging table is dropped best-effort (a drop failure after
// a primary failure is logged, not returned) and the original error is
// wrapped with ErrStagingFailed or ErrMergeFailed.
func (l *Loader) Upsert(ctx context.Context, spec UpsertSpec, recs []records.Record) (Result, error) {
	if len(recs) == 0 {
		return Result{Processed: 0, Status: StatusNoRecords}, nil
	}

	usable, rejected := filterByKey(recs, spec.KeyColumns)
	if len(usable) == 0 {
		return Result{Rejected: rejected, Status: StatusFailed}, fmt.Errorf("upsert %s: %w", spec.Table, ErrNoUsableRecords)
	}

	target, err := l.targetSchema(ctx, spec)
	if err != nil {
		return Result{Rejected: rejected, Status: StatusFailed}, err
	}

	staging := stagingName(spec.Table, l.now())
	stagingSchema := TableSchema{Columns: target.Columns}
	if err := l.client.CreateTable(ctx, staging, stagingSchema); err != nil {
		return Result{Rejected: rejected, Status: StatusFailed},
			fmt.Errorf("%w: create staging %s: %w", ErrStagingFailed, staging, err)
	}

	chunks := Chunks(usable, l.batchSize)
	for i, chunk := range chunks {
		mode := WriteAppend
		if i == 0 {
			mode = WriteTruncate
		}
		if err := l.client.LoadChunk(ctx, staging, stagingSchema, chunk, mode); err != nil {
			l.dropQuietly(ctx, staging)
			return Result{Rejected: rejected, Status: StatusFailed},
				fmt.Errorf("%w: load chunk %d/%d into %s: %w", ErrStagingFailed, i+1, len(chunks), staging, err)
		}
		log.Printf("loader: staged chunk %d/%d (%d records) into %s", i+1, len(chunks), len(chunk), staging)
	}

	nonKeys := nonKeyColumns(target, spec.KeyColumns)
	affected, err := l.client.RunQuery(ctx, l.client.MergeSQL(spec.Table, staging, spec.KeyColumns, nonKeys))
	if err != nil {
		l.dropQuietly(ctx, staging)
		return Result{Rejected: rejected, Status: StatusFailed},
			fmt.Errorf("%w: merge %s into %s: %w", ErrMergeFailed, staging, spec.Table, err)
	}

	if err := l.client.DeleteTable(ctx, staging); err != nil {
		return Result{Rejected: rejected, Status: StatusFailed},
			fmt.Errorf("drop staging %s: %w", staging, err)
	}

	log.Printf("loader: merged %d records into %s, %d rows affected", len(usable), spec.Table, affected)
	return Result{
		Processed:    len(usable),
		RowsAffected: affected,
		Rejected:     rejected,
		Status:       StatusSuccess,
	}, nil
}

// UpsertTwoPhase partitions records into updates and inserts by probing the
// target's existing identity keys, stages updates per batch into numbered
// staging tables merged with an update-only statement, and appends inserts
// directly. Strictly less efficient than Upsert; behaviorally equivalent.
func (l *Loader) UpsertTwoPhase(ctx context.Context, spec UpsertSpec, recs []records.Record) (Result, error) {
	if len(recs) == 0 {
		return Result{Processed: 0, Status: StatusNoRecords}, nil
	}

	usable, rejected := filterByKey(recs, spec.KeyColumns)
	if len(usable) == 0 {
		return Result{Rejected: rejected, Status: StatusFailed}, fmt.Errorf("upsert %s: %w", spec.Table, ErrNoUsableRecords)
	}

	target, err := l.targetSchema(ctx, spec)
	if err != nil {
		return Result{Rejected: rejected, Status: StatusFailed}, err
	}

	existing, err := l.existingKeys(ctx, spec)
	if err != nil {
		return Result{Rejected: rejected, Status: StatusFailed}, fmt.Errorf("probe existing keys in %s: %w", spec.Table, err)
	}

	var updates, inserts []records.Record
	for _, rec := range usable {
		if existing[keyString(rec, spec.KeyColumns)] {
			updates = append(updates, rec)
		} else {
			inserts = append(inserts, rec)
		}
	}

	var affected int64
	nonKeys := nonKeyColumns(target, spec.KeyColumns)
	stagingSchema := TableSchema{Columns: target.Columns}
	stamp := l.now()

	for i, batch := range Chunks(updates, l.batchSize) {
		staging := fmt.Sprintf("%s_upd_%d_%s", spec.Table, i, stamp.Format("20060102_150405"))
		if err := l.client.CreateTable(ctx, staging, stagingSchema); err != nil {
			return Result{Rejected: rejected, Status: StatusFailed},
				fmt.Errorf("%w: create staging %s: %w", ErrStagingFailed, staging, err)
		}
		if err := l.client.LoadChunk(ctx, staging, stagingSchema, batch, WriteTruncate); err != nil {
			l.dropQuietly(ctx, staging)
			return Result{Rejected: rejected, Status: StatusFailed},
				fmt.Errorf("%w: load update batch %d into %s: %w", ErrStagingFailed, i, staging, err)
		}
		n, err := l.client.RunQuery(ctx, l.client.UpdateMergeSQL(spec.Table, staging, spec.KeyColumns, nonKeys))
		if err != nil {
			l.dropQuietly(ctx, staging)
			return Result{Rejected: rejected, Status: StatusFailed},
				fmt.Errorf("%w: update merge %s into %s: %w", ErrMergeFailed, staging, spec.Table, err)
		}
		affected += n
		if err := l.client.DeleteTable(ctx, staging); err != nil {
			return Result{Rejected: rejected, Status: StatusFailed}, fmt.Errorf("drop staging %s: %w", staging, err)
		}
	}

	for i, batch := range Chunks(inserts, l.batchSize) {
		if err := l.client.LoadChunk(ctx, spec.Table, stagingSchema, batch, WriteAppend); err != nil {
			return Result{Rejected: rejected, Status: StatusFailed},
				fmt.Errorf("%w: append insert batch %d into %s: %w", ErrStagingFailed, i, spec.Table, err)
		}
		affected += int64(len(batch))
	}

	log.Printf("loader: two-phase upsert into %s: %d updates, %d inserts", spec.Table, len(updates), len(inserts))
	return Result{
		Processed:    len(usable),
		RowsAffected: affected,
		Rejected:     rejected,
		Updated:      len(updates),
		Inserted:     len(inserts),
		Status:       StatusSuccess,
	}, nil
}

// targetSchema resolves the target's shape. A registered schema is
// authoritative when named: the target is ensured from it and backend
// introspection is skipped, so column kinds and repeated flags are exact
// even on backends whose type systems cannot express them. Without a
// schema name the target must already exist.
func (l *Loader) targetSchema(ctx context.Context, spec UpsertSpec) (TableSchema, error) {
	if spec.SchemaName != "" {
		fields, err := l.reg.Columns(spec.SchemaName)
		if err != nil {
			return TableSchema{}, fmt.Errorf("resolve schema for %s: %w", spec.Table, err)
		}
		ts := FromFields(fields, spec.KeyColumns)
		if err := l.client.CreateTable(ctx, spec.Table, ts); err != nil {
			return TableSchema{}, fmt.Errorf("ensure %s: %w", spec.Table, err)
		}
		return ts, nil
	}

	ts, err := l.client.TableSchema(ctx, spec.Table)
	if err != nil {
		if errors.Is(err, ErrTableNotFound) {
			return TableSchema{}, fmt.Errorf("%w: %s", ErrUnknownTable, spec.Table)
		}
		return TableSchema{}, fmt.Errorf("fetch schema of %s: %w", spec.Table, err)
	}
	return ts, nil
}

// existingKeys loads the target's identity-key tuples into a set.
func (l *Loader) existingKeys(ctx context.Context, spec UpsertSpec) (map[string]bool, error) {
	cols := ""
	for i, k := range spec.KeyColumns {
		if i > 0 {
			cols += ", "
		}
		cols += k
	}
	rows, err := l.client.QueryRows(ctx, fmt.Sprintf("SELECT DISTINCT %s FROM %s", cols, spec.Table))
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(rows))
	for _, row := range rows {
		out[keyString(row, spec.KeyColumns)] = true
	}
	return out, nil
}

// dropQuietly removes a staging table after a primary failure. Its own
// failure is logged and swallowed so the original error propagates.
func (l *Loader) dropQuietly(ctx context.Context, staging string) {
	if err := l.client.DeleteTable(ctx, staging); err != nil {
		log.Printf("loader: cleanup of staging table %s failed: %v", staging, err)
	}
}

// filterByKey drops records missing any identity-key field.
func filterByKey(recs []records.Record, keys []string) (usable []records.Record, rejected int) {
	if len(keys) == 0 {
		return recs, 0
	}
	usable = make([]records.Record, 0, len(recs))
	for _, rec := range recs {
		if hasCompleteKey(rec, keys) {
			usable = append(usable, rec)
		} else {
			rejected++
		}
	}
	return usable, rejected
}

func hasCompleteKey(rec records.Record, keys []string) bool {
	for _, k := range keys {
		v, ok := rec[k]
		if !ok || v == nil || rec.String(k) == "" {
			return false
		}
	}
	return true
}

// nonKeyColumns returns the target's column names with the key columns
// removed, preserving order.
func nonKeyColumns(ts TableSchema, keys []string) []string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	out := make([]string, 0, len(ts.Columns))
	for _, c := range ts.Columns {
		if !isKey[c.Name] {
			out = append(out, c.Name)
		}
	}
	return out
}

// stagingName derives the per-invocation staging table name from the
// target and a microsecond timestamp.
func stagingName(target string, t time.Time) string {
	return fmt.Sprintf("%s_temp_%s_%06d", target, t.Format("20060102_150405"), t.Nanosecond()/1000)
}
