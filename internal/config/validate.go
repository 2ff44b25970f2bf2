// This file adds a lightweight linter/validator for Config values. It
// performs static checks over a built Config and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Config.
//
// Path is a dotted path into the config (e.g. "warehouse.kind"). Message
// is human-readable and names the environment variable that supplies the
// value where one exists.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a
// single error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// warehouseKinds are the registered backend names.
var warehouseKinds = map[string]struct{}{
	"bigquery": {},
	"postgres": {},
	"mssql":    {},
	"sqlite":   {},
	"mysql":    {},
}

// Validate performs static validation of the Config. It does not mutate
// the config; it returns every finding so a single run surfaces the full
// list of missing values. Callers decide whether warnings are fatal.
func (c *Config) Validate() []Issue {
	var issues []Issue
	issues = append(issues, c.validateFacebook()...)
	issues = append(issues, c.validateWarehouse()...)
	issues = append(issues, c.validatePipeline()...)
	return issues
}

func (c *Config) validateFacebook() []Issue {
	var issues []Issue
	f := c.Facebook

	if strings.TrimSpace(f.AccessToken) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "facebook.access_token",
			Message:  "FB_ACCESS_TOKEN is required",
		})
	}
	if strings.TrimSpace(f.AppID) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "facebook.app_id",
			Message:  "FB_APP_ID is required",
		})
	}
	if strings.TrimSpace(f.AppSecret) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "facebook.app_secret",
			Message:  "FB_APP_SECRET is required",
		})
	}
	if len(f.AdAccountIDs) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "facebook.ad_account_ids",
			Message:  "FB_AD_ACCOUNT_ID is required (JSON array of account IDs)",
		})
	}
	for i, id := range f.AdAccountIDs {
		if strings.TrimSpace(id) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("facebook.ad_account_ids[%d]", i),
				Message:  "account ID must not be empty",
			})
		}
	}
	return issues
}

func (c *Config) validateWarehouse() []Issue {
	var issues []Issue
	w := c.Warehouse

	if strings.TrimSpace(w.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "warehouse.kind",
			Message:  "WAREHOUSE_KIND must not be empty",
		})
		return issues
	}
	if _, ok := warehouseKinds[w.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "warehouse.kind",
			Message:  fmt.Sprintf("unknown warehouse kind %q; known: bigquery, postgres, mssql, sqlite, mysql", w.Kind),
		})
		return issues
	}

	switch w.Kind {
	case "bigquery":
		if strings.TrimSpace(w.ProjectID) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "warehouse.project_id",
				Message:  "GCP_PROJECT_ID is required for the bigquery backend",
			})
		}
		if strings.TrimSpace(w.DatasetID) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "warehouse.dataset_id",
				Message:  "BQ_DATASET_ID must not be empty",
			})
		}
		if strings.TrimSpace(w.Credentials) == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "warehouse.credentials",
				Message:  "GOOGLE_CREDENTIALS not set; application-default credentials will be used",
			})
		}
	default:
		if strings.TrimSpace(w.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "warehouse.dsn",
				Message:  fmt.Sprintf("WAREHOUSE_DSN is required for the %s backend", w.Kind),
			})
		}
	}

	if strings.TrimSpace(w.MetaAdsTable) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "warehouse.meta_ads_table",
			Message:  "BQ_META_ADS_TABLE must not be empty",
		})
	}
	if c.Pipeline.UpdateKPIMappings && strings.TrimSpace(w.KPIMappingTable) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "warehouse.kpi_mapping_table",
			Message:  "BQ_KPI_MAPPING_TABLE must not be empty when KPI mapping updates are enabled",
		})
	}
	return issues
}

func (c *Config) validatePipeline() []Issue {
	var issues []Issue
	p := c.Pipeline

	if p.BatchSize <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "pipeline.batch_size",
			Message:  fmt.Sprintf("PIPELINE_BATCH_SIZE=%d; batch size must be positive", p.BatchSize),
		})
	}
	if p.ChunkDays < 2 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "pipeline.chunk_days",
			Message:  fmt.Sprintf("PIPELINE_CHUNK_DAYS=%d; windows narrower than 2 days fall back to the 7-day default at fetch time", p.ChunkDays),
		})
	}
	if p.DelaySeconds < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "pipeline.delay_seconds",
			Message:  "PIPELINE_DELAY must not be negative",
		})
	}
	return issues
}

// AsError collapses the error-severity issues into a single error whose
// message lists every one, or nil when none are errors. Warnings are
// dropped; log them separately.
func AsError(issues []Issue) error {
	var msgs []string
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			msgs = append(msgs, iss.Message)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("config invalid: %s", strings.Join(msgs, "; "))
}
