// Package config defines the runtime configuration for the ads sync
// pipeline. A Config is built once at startup from an optional JSON file
// plus environment overrides; decoding is performed by the standard
// library and the result is passed through the program without further
// glue.
//
// Precedence: defaults, then the JSON file, then environment variables.
//
// Example file (trimmed):
//
//	{
//	  "facebook":  { "ad_account_ids": ["123", "456"] },
//	  "warehouse": { "kind": "bigquery", "project_id": "ads-wh", "dataset_id": "raw_ads" },
//	  "pipeline":  { "batch_size": 1000, "chunk_days": 7 }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"adsync/internal/warehouse"
)

// Config is the top-level configuration object.
type Config struct {
	// Facebook holds Graph API access settings.
	Facebook Facebook `json:"facebook"`

	// Warehouse selects and parameterizes the analytical warehouse.
	Warehouse Warehouse `json:"warehouse"`

	// Pipeline controls batching, chunking, and optional steps.
	Pipeline Pipeline `json:"pipeline"`
}

// Facebook holds Graph API credentials and the account list.
type Facebook struct {
	// AccessToken is the Graph API token. Env: FB_ACCESS_TOKEN.
	AccessToken string `json:"access_token"`

	// AppID and AppSecret identify the API application.
	// Env: FB_APP_ID, FB_APP_SECRET.
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`

	// AdAccountIDs lists the ad accounts to sync. The environment
	// override FB_AD_ACCOUNT_ID must be a JSON array of strings; no other
	// encoding is accepted.
	AdAccountIDs []string `json:"ad_account_ids"`
}

// Warehouse selects the warehouse backend and its destination tables.
type Warehouse struct {
	// Kind names a registered backend: bigquery, postgres, mssql, sqlite,
	// mysql. Env: WAREHOUSE_KIND. Default "bigquery".
	Kind string `json:"kind"`

	// DSN is the connection string for the SQL backends.
	// Env: WAREHOUSE_DSN.
	DSN string `json:"dsn"`

	// ProjectID, Credentials, DatasetID and Location configure the
	// bigquery backend. Credentials holds service-account JSON; empty
	// means application-default credentials.
	// Env: GCP_PROJECT_ID, GOOGLE_CREDENTIALS, BQ_DATASET_ID, BQ_LOCATION.
	ProjectID   string `json:"project_id"`
	Credentials string `json:"credentials"`
	DatasetID   string `json:"dataset_id"`
	Location    string `json:"location"`

	// MetaAdsTable is the insights destination table.
	// Env: BQ_META_ADS_TABLE. Default "meta_ads".
	MetaAdsTable string `json:"meta_ads_table"`

	// KPIMappingTable is the KPI mapping destination table.
	// Env: BQ_KPI_MAPPING_TABLE. Default "rollup_reference.kpi_event_mapping".
	KPIMappingTable string `json:"kpi_mapping_table"`
}

// Pipeline controls run behavior.
type Pipeline struct {
	// BatchSize caps records per load chunk.
	// Env: PIPELINE_BATCH_SIZE. Default 1000.
	BatchSize int `json:"batch_size"`

	// ChunkDays is the date-range window width for ranged fetches.
	// Env: PIPELINE_CHUNK_DAYS. Default 7.
	ChunkDays int `json:"chunk_days"`

	// DelaySeconds is the pause between range chunks.
	// Env: PIPELINE_DELAY. Default 0.2.
	DelaySeconds float64 `json:"delay_seconds"`

	// EnableValidation toggles the validate step.
	// Env: PIPELINE_ENABLE_VALIDATION. Default true.
	EnableValidation bool `json:"enable_validation"`

	// UpdateKPIMappings toggles the kpi_sync step.
	// Env: PIPELINE_UPDATE_KPI_MAPPINGS. Default false.
	UpdateKPIMappings bool `json:"update_kpi_mappings"`

	// ArtifactDir is where invalid-record dumps are written.
	// Env: PIPELINE_ARTIFACT_DIR. Default ".".
	ArtifactDir string `json:"artifact_dir"`

	// RollupSQLFile, when set, names a SQL file executed after a
	// successful upload. Env: PIPELINE_ROLLUP_SQL_FILE.
	RollupSQLFile string `json:"rollup_sql_file"`
}

// Default returns a Config carrying every default value.
func Default() *Config {
	return &Config{
		Warehouse: Warehouse{
			Kind:            "bigquery",
			DatasetID:       "raw_ads",
			MetaAdsTable:    "meta_ads",
			KPIMappingTable: "rollup_reference.kpi_event_mapping",
		},
		Pipeline: Pipeline{
			BatchSize:        1000,
			ChunkDays:        7,
			DelaySeconds:     0.2,
			EnableValidation: true,
			ArtifactDir:      ".",
		},
	}
}

// Load builds the Config: defaults, then the JSON file at path (skipped
// when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := json.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays set environment variables onto cfg. Unset variables
// leave the current value alone.
func (c *Config) applyEnv() error {
	setString(&c.Facebook.AccessToken, "FB_ACCESS_TOKEN")
	setString(&c.Facebook.AppID, "FB_APP_ID")
	setString(&c.Facebook.AppSecret, "FB_APP_SECRET")
	if raw, ok := os.LookupEnv("FB_AD_ACCOUNT_ID"); ok {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return fmt.Errorf("config: FB_AD_ACCOUNT_ID must be a JSON array of strings: %w", err)
		}
		c.Facebook.AdAccountIDs = ids
	}

	setString(&c.Warehouse.Kind, "WAREHOUSE_KIND")
	setString(&c.Warehouse.DSN, "WAREHOUSE_DSN")
	setString(&c.Warehouse.ProjectID, "GCP_PROJECT_ID")
	setString(&c.Warehouse.Credentials, "GOOGLE_CREDENTIALS")
	setString(&c.Warehouse.DatasetID, "BQ_DATASET_ID")
	setString(&c.Warehouse.Location, "BQ_LOCATION")
	setString(&c.Warehouse.MetaAdsTable, "BQ_META_ADS_TABLE")
	setString(&c.Warehouse.KPIMappingTable, "BQ_KPI_MAPPING_TABLE")

	if err := setInt(&c.Pipeline.BatchSize, "PIPELINE_BATCH_SIZE"); err != nil {
		return err
	}
	if err := setInt(&c.Pipeline.ChunkDays, "PIPELINE_CHUNK_DAYS"); err != nil {
		return err
	}
	if err := setFloat(&c.Pipeline.DelaySeconds, "PIPELINE_DELAY"); err != nil {
		return err
	}
	if err := setBool(&c.Pipeline.EnableValidation, "PIPELINE_ENABLE_VALIDATION"); err != nil {
		return err
	}
	if err := setBool(&c.Pipeline.UpdateKPIMappings, "PIPELINE_UPDATE_KPI_MAPPINGS"); err != nil {
		return err
	}
	setString(&c.Pipeline.ArtifactDir, "PIPELINE_ARTIFACT_DIR")
	setString(&c.Pipeline.RollupSQLFile, "PIPELINE_ROLLUP_SQL_FILE")
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}

// WarehouseConfig maps the warehouse section onto the backend factory's
// config.
func (c *Config) WarehouseConfig() warehouse.Config {
	return warehouse.Config{
		Kind:        c.Warehouse.Kind,
		DSN:         c.Warehouse.DSN,
		Project:     c.Warehouse.ProjectID,
		Dataset:     c.Warehouse.DatasetID,
		Location:    c.Warehouse.Location,
		Credentials: []byte(c.Warehouse.Credentials),
	}
}

// Redacted returns a loggable view of the configuration with secrets
// masked. App IDs keep their last four characters for correlation.
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"facebook": map[string]any{
			"access_token":   mask(c.Facebook.AccessToken),
			"app_id":         tail(c.Facebook.AppID, 4),
			"app_secret":     mask(c.Facebook.AppSecret),
			"ad_account_ids": c.Facebook.AdAccountIDs,
		},
		"warehouse": map[string]any{
			"kind":              c.Warehouse.Kind,
			"dsn":               mask(c.Warehouse.DSN),
			"project_id":        c.Warehouse.ProjectID,
			"credentials":       mask(c.Warehouse.Credentials),
			"dataset_id":        c.Warehouse.DatasetID,
			"location":          c.Warehouse.Location,
			"meta_ads_table":    c.Warehouse.MetaAdsTable,
			"kpi_mapping_table": c.Warehouse.KPIMappingTable,
		},
		"pipeline": map[string]any{
			"batch_size":          c.Pipeline.BatchSize,
			"chunk_days":          c.Pipeline.ChunkDays,
			"delay_seconds":       c.Pipeline.DelaySeconds,
			"enable_validation":   c.Pipeline.EnableValidation,
			"update_kpi_mappings": c.Pipeline.UpdateKPIMappings,
			"artifact_dir":        c.Pipeline.ArtifactDir,
			"rollup_sql_file":     c.Pipeline.RollupSQLFile,
		},
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func tail(s string, n int) string {
	if s == "" {
		return ""
	}
	if len(s) <= n {
		return "***"
	}
	return "..." + s[len(s)-n:]
}
