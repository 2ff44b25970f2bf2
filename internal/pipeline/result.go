package pipeline

import (
	"time"

	"adsync/internal/kpimap"
)

// Sync modes accepted by Run.
const (
	// ModeFull syncs the source's default reporting window (last 30 days).
	ModeFull = "full"
	// ModeIncremental syncs the trailing DaysBack days.
	ModeIncremental = "incremental"
	// ModeDateRange syncs an explicit [Start, End] date range.
	ModeDateRange = "daterange"
	// ModeValidate fetches and validates but never writes: dry-run with
	// validation forced on.
	ModeValidate = "validate"
)

// Run statuses.
const (
	StatusStarted         = "started"
	StatusCompleted       = "completed"
	StatusCompletedNoData = "completed_no_data"
	StatusFailed          = "failed"
)

// Step names, which key RunResult.Steps.
const (
	StepKPISync  = "kpi_sync"
	StepFetch    = "fetch"
	StepValidate = "validate"
	StepUpload   = "upload"
	StepRollup   = "rollup"
)

// Step statuses.
const (
	StepSuccess = "success"
	StepSkipped = "skipped"
	StepFailed  = "failed"
)

// Options selects what one run covers.
type Options struct {
	// Mode is one of the Mode constants. Empty means ModeIncremental.
	Mode string

	// DaysBack sizes the incremental window. Zero or negative means 7.
	DaysBack int

	// Start and End bound a daterange run. Both are required in
	// ModeDateRange and ignored elsewhere.
	Start time.Time
	End   time.Time

	// DryRun runs fetch and validation but skips every warehouse write.
	DryRun bool
}

// StepResult reports one pipeline step. Zero-valued fields are omitted
// from the JSON rendering, so each step carries only its own counts.
type StepResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	// Records is the fetch step's deduplicated record count.
	Records int `json:"records,omitempty"`

	// Partial and Failed list accounts the fetch step could not fully
	// cover: Partial accounts are missing some date chunks, Failed
	// accounts contributed nothing.
	Partial []string `json:"partial,omitempty"`
	Failed  []string `json:"failed,omitempty"`

	// Valid and Invalid are the validate step's record counts.
	Valid   int `json:"valid,omitempty"`
	Invalid int `json:"invalid,omitempty"`

	// Processed, RowsAffected and Rejected mirror the loader's result for
	// the upload step.
	Processed    int   `json:"processed,omitempty"`
	RowsAffected int64 `json:"rows_affected,omitempty"`
	Rejected     int   `json:"rejected,omitempty"`

	// Mappings is the kpi_sync step's rebuild summary.
	Mappings *kpimap.SyncResult `json:"mappings,omitempty"`
}

// RunResult reports one pipeline run. Steps holds one entry per executed
// step even when the run fails; the entries written before the failure
// keep their counts so a failed run is still diagnosable.
type RunResult struct {
	StartTime       time.Time             `json:"start_time"`
	EndTime         time.Time             `json:"end_time"`
	DurationSeconds float64               `json:"duration_seconds"`
	Mode            string                `json:"mode"`
	DryRun          bool                  `json:"dry_run,omitempty"`
	Status          string                `json:"status"`
	Error           string                `json:"error,omitempty"`
	Steps           map[string]StepResult `json:"steps"`
}

// finish stamps the end of the run.
func (r *RunResult) finish(end time.Time, status string) {
	r.EndTime = end
	r.DurationSeconds = end.Sub(r.StartTime).Seconds()
	r.Status = status
}
