// Package pipeline orchestrates one ads sync run: rebuild the KPI mapping
// table, fetch insights from the source, validate and transform them, and
// reconcile the survivors into the warehouse, with an optional rollup
// query afterwards.
//
// Every executed step lands in the run result under its step name. A step
// failure stops the run and marks it failed, but the steps completed
// before it keep their counts, so a failed run stays diagnosable.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"adsync/internal/config"
	"adsync/internal/kpimap"
	"adsync/internal/metrics"
	"adsync/internal/schema"
	"adsync/internal/source/metaads"
	"adsync/internal/transform"
	"adsync/internal/warehouse"
	"adsync/pkg/records"
)

// jobName labels every metric this package records.
const jobName = "ads_sync"

// InsightsSource fetches per-ad daily metrics. *metaads.Client satisfies
// it.
type InsightsSource interface {
	Insights(ctx context.Context, accountID string) ([]records.Record, error)
	InsightsRange(ctx context.Context, accountID string, start, end time.Time) ([]records.Record, error)
}

// Upserter reconciles record batches into a warehouse table.
// *warehouse.Loader satisfies it.
type Upserter interface {
	Upsert(ctx context.Context, spec warehouse.UpsertSpec, recs []records.Record) (warehouse.Result, error)
}

// MappingSyncer rebuilds the KPI mapping table. *kpimap.Synchronizer
// satisfies it.
type MappingSyncer interface {
	Sync(ctx context.Context, accountIDs []string) (kpimap.SyncResult, error)
}

// QueryRunner executes a DML statement. warehouse.Client satisfies it.
type QueryRunner interface {
	RunQuery(ctx context.Context, query string) (int64, error)
}

// Deps carries the collaborators a Runner drives. Source and Loader are
// required. Syncer is needed only when KPI mapping updates are enabled,
// Queries only when a rollup SQL file is configured.
type Deps struct {
	Source  InsightsSource
	Loader  Upserter
	Syncer  MappingSyncer
	Queries QueryRunner
}

// Runner executes sync runs against a fixed configuration.
type Runner struct {
	cfg       *config.Config
	src       InsightsSource
	loader    Upserter
	syncer    MappingSyncer
	queries   QueryRunner
	validator *transform.Validator
	xform     *transform.Transformer

	// Test seams.
	now       func() time.Time
	readFile  func(string) ([]byte, error)
	writeFile func(string, []byte, os.FileMode) error
}

// NewRunner wires a Runner. The validator and transformer are built from
// the registry's insights schema.
func NewRunner(cfg *config.Config, reg *schema.Registry, deps Deps) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline: config must not be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("pipeline: registry must not be nil")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("pipeline: insights source must be set")
	}
	if deps.Loader == nil {
		return nil, fmt.Errorf("pipeline: loader must be set")
	}

	validator, err := transform.NewValidator(reg, schema.Insights)
	if err != nil {
		return nil, err
	}
	xform, err := transform.NewTransformer(reg, schema.Insights)
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:       cfg,
		src:       deps.Source,
		loader:    deps.Loader,
		syncer:    deps.Syncer,
		queries:   deps.Queries,
		validator: validator,
		xform:     xform,
		now:       time.Now,
		readFile:  os.ReadFile,
		writeFile: os.WriteFile,
	}, nil
}

// Run executes one sync run and reports it. The returned result is
// non-nil even when the error is not: a failed run carries the failing
// step's message and everything completed before it.
func (r *Runner) Run(ctx context.Context, opts Options) (*RunResult, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeIncremental
	}
	dryRun := opts.DryRun
	if mode == ModeValidate {
		dryRun = true
	}

	res := &RunResult{
		StartTime: r.now(),
		Mode:      mode,
		DryRun:    dryRun,
		Status:    StatusStarted,
		Steps:     map[string]StepResult{},
	}

	since, until, ranged, err := r.window(mode, opts)
	if err != nil {
		return r.failed(res, err)
	}

	log.Printf("pipeline: %s sync starting, accounts=%d dry_run=%v",
		mode, len(r.cfg.Facebook.AdAccountIDs), dryRun)

	// Step 1: rebuild the KPI mapping table.
	if r.cfg.Pipeline.UpdateKPIMappings && !dryRun {
		if err := r.runKPISync(ctx, res); err != nil {
			return r.failed(res, err)
		}
	} else {
		res.Steps[StepKPISync] = StepResult{Status: StepSkipped}
	}

	// Step 2: fetch insights from all configured accounts.
	fetched, err := r.runFetch(ctx, res, since, until, ranged)
	if err != nil {
		return r.failed(res, err)
	}
	if len(fetched) == 0 {
		log.Printf("pipeline: no insights retrieved")
		res.finish(r.now(), StatusCompletedNoData)
		return res, nil
	}

	// Step 3: validate and transform. Validate mode forces this step even
	// when validation is configured off.
	upload := fetched
	if r.cfg.Pipeline.EnableValidation || mode == ModeValidate {
		upload = r.runValidate(res, fetched)
	} else {
		res.Steps[StepValidate] = StepResult{Status: StepSkipped}
	}

	// Step 4: reconcile into the insights table.
	uploaded := false
	if !dryRun && len(upload) > 0 {
		if err := r.runUpload(ctx, res, upload); err != nil {
			return r.failed(res, err)
		}
		uploaded = true
	} else {
		res.Steps[StepUpload] = StepResult{Status: StepSkipped}
	}

	// Step 5: optional rollup query, only after a real upload.
	if r.cfg.Pipeline.RollupSQLFile != "" {
		if !uploaded {
			res.Steps[StepRollup] = StepResult{Status: StepSkipped}
		} else if err := r.runRollup(ctx, res); err != nil {
			return r.failed(res, err)
		}
	}

	res.finish(r.now(), StatusCompleted)
	log.Printf("pipeline: %s sync completed in %.2fs", mode, res.DurationSeconds)
	return res, nil
}

// window resolves the fetch range for the mode. Full and validate runs
// use the source's default window instead of an explicit range.
func (r *Runner) window(mode string, opts Options) (since, until time.Time, ranged bool, err error) {
	switch mode {
	case ModeFull, ModeValidate:
		return time.Time{}, time.Time{}, false, nil
	case ModeIncremental:
		days := opts.DaysBack
		if days <= 0 {
			days = 7
		}
		until = r.now()
		since = until.AddDate(0, 0, -days)
		return since, until, true, nil
	case ModeDateRange:
		if opts.Start.IsZero() || opts.End.IsZero() {
			return time.Time{}, time.Time{}, false,
				fmt.Errorf("pipeline: daterange mode needs start and end dates")
		}
		return opts.Start, opts.End, true, nil
	default:
		return time.Time{}, time.Time{}, false, fmt.Errorf("pipeline: unknown mode %q", mode)
	}
}

// failed stamps the run as failed. The steps recorded so far stay in the
// result.
func (r *Runner) failed(res *RunResult, err error) (*RunResult, error) {
	res.Error = err.Error()
	res.finish(r.now(), StatusFailed)
	log.Printf("pipeline: run failed: %v", err)
	return res, err
}

func (r *Runner) runKPISync(ctx context.Context, res *RunResult) error {
	log.Printf("pipeline: updating KPI mappings")
	start := r.now()

	if r.syncer == nil {
		err := fmt.Errorf("pipeline: KPI mapping updates enabled but no synchronizer wired")
		res.Steps[StepKPISync] = StepResult{Status: StepFailed, Error: err.Error()}
		metrics.RecordStep(jobName, StepKPISync, err, r.now().Sub(start))
		return err
	}

	syncRes, err := r.syncer.Sync(ctx, r.cfg.Facebook.AdAccountIDs)
	if err != nil && !errors.Is(err, kpimap.ErrPartialSync) {
		res.Steps[StepKPISync] = StepResult{Status: StepFailed, Error: err.Error()}
		metrics.RecordStep(jobName, StepKPISync, err, r.now().Sub(start))
		return err
	}
	if err != nil {
		// Partial: the table was rebuilt without the failed accounts,
		// which the result's Mappings.Failed list names.
		log.Printf("pipeline: %v", err)
	}

	res.Steps[StepKPISync] = StepResult{Status: StepSuccess, Mappings: &syncRes}
	metrics.RecordStep(jobName, StepKPISync, nil, r.now().Sub(start))
	metrics.RecordRecords(jobName, "mappings", int64(syncRes.Total))
	return nil
}

func (r *Runner) runFetch(ctx context.Context, res *RunResult, since, until time.Time, ranged bool) ([]records.Record, error) {
	log.Printf("pipeline: fetching insights")
	start := r.now()
	step := StepResult{Status: StepSuccess}

	var fetched []records.Record
	for _, acct := range r.cfg.Facebook.AdAccountIDs {
		var recs []records.Record
		var err error
		if ranged {
			recs, err = r.src.InsightsRange(ctx, acct, since, until)
		} else {
			recs, err = r.src.Insights(ctx, acct)
		}
		switch {
		case err == nil:
		case errors.Is(err, metaads.ErrPartialFetch):
			// The skipped chunks are logged by the client; what was
			// fetched is still usable.
			step.Partial = append(step.Partial, acct)
		case ctx.Err() != nil:
			res.Steps[StepFetch] = StepResult{Status: StepFailed, Error: err.Error()}
			metrics.RecordStep(jobName, StepFetch, err, r.now().Sub(start))
			return nil, err
		default:
			log.Printf("pipeline: account %s fetch failed, skipping: %v", acct, err)
			step.Failed = append(step.Failed, acct)
			continue
		}
		fetched = append(fetched, recs...)
	}

	// Range chunks overlap on boundary days; keep the last copy of every
	// ad-day row.
	fetched = metaads.Dedupe(fetched, schema.InsightsKeyColumns())
	step.Records = len(fetched)
	res.Steps[StepFetch] = step
	metrics.RecordStep(jobName, StepFetch, nil, r.now().Sub(start))
	metrics.RecordRecords(jobName, "fetched", int64(len(fetched)))
	log.Printf("pipeline: fetched %d records", len(fetched))
	return fetched, nil
}

func (r *Runner) runValidate(res *RunResult, recs []records.Record) []records.Record {
	log.Printf("pipeline: validating %d records", len(recs))
	start := r.now()

	br := r.validator.ValidateBatch(r.xform, recs, false)
	res.Steps[StepValidate] = StepResult{
		Status:  StepSuccess,
		Valid:   len(br.Valid),
		Invalid: len(br.Invalid),
	}
	metrics.RecordStep(jobName, StepValidate, nil, r.now().Sub(start))
	metrics.RecordRecords(jobName, "valid", int64(len(br.Valid)))
	metrics.RecordRecords(jobName, "invalid", int64(len(br.Invalid)))

	if len(br.Invalid) > 0 {
		r.dumpInvalid(br.Invalid)
	}
	return br.Valid
}

// dumpInvalid writes rejected records to a timestamped JSON file for
// operator review. Failures are logged, never fatal. An empty artifact
// directory disables the dump.
func (r *Runner) dumpInvalid(rejected []transform.Rejected) {
	dir := r.cfg.Pipeline.ArtifactDir
	if dir == "" {
		return
	}
	name := fmt.Sprintf("invalid_records_%s.json", r.now().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(rejected, "", "  ")
	if err != nil {
		log.Printf("pipeline: marshal invalid records: %v", err)
		return
	}
	if err := r.writeFile(path, data, 0o644); err != nil {
		log.Printf("pipeline: write %s: %v", path, err)
		return
	}
	log.Printf("pipeline: saved %d invalid records to %s", len(rejected), path)
}

func (r *Runner) runUpload(ctx context.Context, res *RunResult, recs []records.Record) error {
	log.Printf("pipeline: uploading %d records to %s", len(recs), r.cfg.Warehouse.MetaAdsTable)
	start := r.now()

	spec := warehouse.UpsertSpec{
		Table:      r.cfg.Warehouse.MetaAdsTable,
		SchemaName: schema.Insights,
		KeyColumns: schema.InsightsKeyColumns(),
	}
	upres, err := r.loader.Upsert(ctx, spec, recs)
	metrics.RecordStep(jobName, StepUpload, err, r.now().Sub(start))
	if err != nil {
		res.Steps[StepUpload] = StepResult{Status: StepFailed, Error: err.Error()}
		return err
	}

	res.Steps[StepUpload] = StepResult{
		Status:       StepSuccess,
		Processed:    upres.Processed,
		RowsAffected: upres.RowsAffected,
		Rejected:     upres.Rejected,
	}
	metrics.RecordRecords(jobName, "uploaded", int64(upres.Processed))
	metrics.RecordRecords(jobName, "rejected", int64(upres.Rejected))
	if bs := r.cfg.Pipeline.BatchSize; bs > 0 {
		metrics.RecordBatches(jobName, int64((upres.Processed+bs-1)/bs))
	}
	return nil
}

func (r *Runner) runRollup(ctx context.Context, res *RunResult) error {
	log.Printf("pipeline: running rollup query from %s", r.cfg.Pipeline.RollupSQLFile)
	start := r.now()

	fail := func(err error) error {
		res.Steps[StepRollup] = StepResult{Status: StepFailed, Error: err.Error()}
		metrics.RecordStep(jobName, StepRollup, err, r.now().Sub(start))
		return err
	}

	if r.queries == nil {
		return fail(fmt.Errorf("pipeline: rollup configured but no query runner wired"))
	}
	sql, err := r.readFile(r.cfg.Pipeline.RollupSQLFile)
	if err != nil {
		return fail(fmt.Errorf("pipeline: read rollup SQL: %w", err))
	}
	affected, err := r.queries.RunQuery(ctx, string(sql))
	if err != nil {
		return fail(fmt.Errorf("pipeline: rollup query: %w", err))
	}

	res.Steps[StepRollup] = StepResult{Status: StepSuccess, RowsAffected: affected}
	metrics.RecordStep(jobName, StepRollup, nil, r.now().Sub(start))
	return nil
}
