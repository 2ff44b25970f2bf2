package kpimap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"adsync/internal/schema"
	"adsync/internal/source/metaads"
	"adsync/internal/warehouse"
	"adsync/pkg/records"
)

// ErrPartialSync reports that the mapping table was rebuilt but one or
// more accounts could not contribute their custom conversions. The table
// still holds every row that was fetched.
var ErrPartialSync = errors.New("partial mapping sync")

// ConversionSource lists an account's custom conversions. *metaads.Client
// satisfies it.
type ConversionSource interface {
	CustomConversions(ctx context.Context, accountID string) ([]metaads.CustomConversion, error)
}

// TableWriter is the slice of the warehouse client the synchronizer
// writes through.
type TableWriter interface {
	CreateTable(ctx context.Context, table string, ts warehouse.TableSchema) error
	LoadChunk(ctx context.Context, table string, ts warehouse.TableSchema, recs []records.Record, mode warehouse.WriteMode) error
}

// SyncResult summarizes one mapping-table rebuild.
type SyncResult struct {
	// Standard and Custom count rows written by kind; Total is their sum.
	Standard int `json:"standard"`
	Custom   int `json:"custom"`
	Total    int `json:"total"`

	// Failed lists accounts whose custom conversions could not be
	// fetched. Their rows are absent from the rebuilt table.
	Failed []string `json:"failed,omitempty"`
}

// SyncConfig parameterizes a Synchronizer.
type SyncConfig struct {
	// Table is the mapping table name. Required.
	Table string

	// BatchSize caps rows per load chunk. Default 500.
	BatchSize int

	// FetchConcurrency bounds concurrent per-account conversion fetches.
	// Default 4.
	FetchConcurrency int

	// Resolver, when set, is invalidated after a successful rebuild so
	// readers see the new rows on their next lookup.
	Resolver *Resolver
}

// Synchronizer rebuilds the KPI mapping table from the standard catalog
// plus per-account custom conversions.
type Synchronizer struct {
	src   ConversionSource
	store TableWriter
	reg   *schema.Registry
	cfg   SyncConfig
	now   func() time.Time
}

// NewSynchronizer wires a synchronizer. src may be nil when sync will only
// ever be called with an empty account list.
func NewSynchronizer(src ConversionSource, store TableWriter, reg *schema.Registry, cfg SyncConfig) (*Synchronizer, error) {
	if store == nil {
		return nil, fmt.Errorf("kpimap: store must not be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("kpimap: registry must not be nil")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("kpimap: table must be set")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	return &Synchronizer{src: src, store: store, reg: reg, cfg: cfg, now: time.Now}, nil
}

// Sync rebuilds the mapping table: the standard catalog plus the custom
// conversions of every listed account, each row stamped with the rebuild
// time. Accounts whose fetch fails are logged, skipped, and reported in
// the result's Failed list together with a non-nil ErrPartialSync; a
// failed fetch never aborts the rebuild. Fetches run concurrently; row
// order follows the account list regardless of completion order.
func (s *Synchronizer) Sync(ctx context.Context, accountIDs []string) (SyncResult, error) {
	var res SyncResult
	stamp := s.now().UTC().Format(time.RFC3339)

	rows := StandardMappings()
	for i := range rows {
		rows[i].LastUpdated = stamp
	}
	res.Standard = len(rows)

	fetched := make([][]metaads.CustomConversion, len(accountIDs))
	fetchErr := make([]error, len(accountIDs))
	var g errgroup.Group
	g.SetLimit(s.cfg.FetchConcurrency)
	for i, acct := range accountIDs {
		if s.src == nil {
			fetchErr[i] = fmt.Errorf("no conversion source configured")
			continue
		}
		g.Go(func() error {
			fetched[i], fetchErr[i] = s.src.CustomConversions(ctx, acct)
			return nil
		})
	}
	g.Wait()

	for i, acct := range accountIDs {
		if err := fetchErr[i]; err != nil {
			log.Printf("kpimap: custom conversions for account %s: %v", acct, err)
			res.Failed = append(res.Failed, acct)
			continue
		}
		log.Printf("kpimap: account %s has %d custom conversions", acct, len(fetched[i]))
		for _, cc := range fetched[i] {
			m := FromConversion(acct, cc)
			m.LastUpdated = stamp
			rows = append(rows, m)
		}
	}
	res.Custom = len(rows) - res.Standard
	res.Total = len(rows)

	if err := s.replace(ctx, rows); err != nil {
		return res, fmt.Errorf("kpimap: rebuild %s: %w", s.cfg.Table, err)
	}
	if s.cfg.Resolver != nil {
		s.cfg.Resolver.Invalidate()
	}
	log.Printf("kpimap: rebuilt %s: %d standard, %d custom, %d total",
		s.cfg.Table, res.Standard, res.Custom, res.Total)

	if len(res.Failed) > 0 {
		return res, fmt.Errorf("%w: accounts %s", ErrPartialSync, strings.Join(res.Failed, ", "))
	}
	return res, nil
}

// replace swaps the table's contents for rows: the first chunk truncates,
// the rest append.
func (s *Synchronizer) replace(ctx context.Context, rows []Mapping) error {
	fields, err := s.reg.Columns(schema.KPIMapping)
	if err != nil {
		return err
	}
	ts := warehouse.FromFields(fields, nil)
	if err := s.store.CreateTable(ctx, s.cfg.Table, ts); err != nil {
		return err
	}

	recs := make([]records.Record, len(rows))
	for i, m := range rows {
		recs[i] = m.record()
	}
	mode := warehouse.WriteTruncate
	for start := 0; start < len(recs); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(recs) {
			end = len(recs)
		}
		if err := s.store.LoadChunk(ctx, s.cfg.Table, ts, recs[start:end], mode); err != nil {
			return err
		}
		mode = warehouse.WriteAppend
	}
	return nil
}
