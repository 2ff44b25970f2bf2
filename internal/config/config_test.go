package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// -----------------------------------------------------------------------------
// Load tests
// -----------------------------------------------------------------------------
//
// Precedence under test: defaults, then the JSON file, then environment
// variables. File decoding goes through a real temp file because Load owns
// the read; everything else stays hermetic.

func writeConfigFile(t *testing.T, js string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adsync.json")
	if err := os.WriteFile(path, []byte(js), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Warehouse.Kind != "bigquery" {
		t.Fatalf("warehouse.kind = %q, want bigquery", cfg.Warehouse.Kind)
	}
	if cfg.Warehouse.DatasetID != "raw_ads" || cfg.Warehouse.MetaAdsTable != "meta_ads" {
		t.Fatalf("warehouse defaults = %#v", cfg.Warehouse)
	}
	if cfg.Warehouse.KPIMappingTable != "rollup_reference.kpi_event_mapping" {
		t.Fatalf("kpi_mapping_table = %q", cfg.Warehouse.KPIMappingTable)
	}
	if cfg.Pipeline.BatchSize != 1000 || cfg.Pipeline.ChunkDays != 7 {
		t.Fatalf("pipeline defaults = %#v", cfg.Pipeline)
	}
	if cfg.Pipeline.DelaySeconds != 0.2 {
		t.Fatalf("delay_seconds = %v, want 0.2", cfg.Pipeline.DelaySeconds)
	}
	if !cfg.Pipeline.EnableValidation {
		t.Fatal("enable_validation should default to true")
	}
	if cfg.Pipeline.UpdateKPIMappings {
		t.Fatal("update_kpi_mappings should default to false")
	}
	if cfg.Pipeline.ArtifactDir != "." {
		t.Fatalf("artifact_dir = %q, want .", cfg.Pipeline.ArtifactDir)
	}
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	path := writeConfigFile(t, `{
	  "facebook": {
	    "access_token": "file-token",
	    "app_id": "12345678",
	    "app_secret": "file-secret",
	    "ad_account_ids": ["111", "222"]
	  },
	  "warehouse": { "kind": "sqlite", "dsn": "file.db", "meta_ads_table": "ads_file" },
	  "pipeline": { "batch_size": 250, "chunk_days": 3 }
	}`)

	t.Setenv("FB_ACCESS_TOKEN", "env-token")
	t.Setenv("WAREHOUSE_DSN", "env.db")
	t.Setenv("PIPELINE_BATCH_SIZE", "500")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Env wins over file.
	if cfg.Facebook.AccessToken != "env-token" {
		t.Fatalf("access_token = %q, want env-token", cfg.Facebook.AccessToken)
	}
	if cfg.Warehouse.DSN != "env.db" {
		t.Fatalf("dsn = %q, want env.db", cfg.Warehouse.DSN)
	}
	if cfg.Pipeline.BatchSize != 500 {
		t.Fatalf("batch_size = %d, want 500", cfg.Pipeline.BatchSize)
	}

	// File wins over defaults where env is silent.
	if cfg.Warehouse.Kind != "sqlite" || cfg.Warehouse.MetaAdsTable != "ads_file" {
		t.Fatalf("warehouse = %#v, want file values", cfg.Warehouse)
	}
	if cfg.Pipeline.ChunkDays != 3 {
		t.Fatalf("chunk_days = %d, want 3", cfg.Pipeline.ChunkDays)
	}
	if !reflect.DeepEqual(cfg.Facebook.AdAccountIDs, []string{"111", "222"}) {
		t.Fatalf("ad_account_ids = %#v", cfg.Facebook.AdAccountIDs)
	}

	// Defaults survive where both are silent.
	if cfg.Warehouse.DatasetID != "raw_ads" {
		t.Fatalf("dataset_id = %q, want default", cfg.Warehouse.DatasetID)
	}
}

func TestLoad_AccountListFromEnv(t *testing.T) {
	t.Setenv("FB_AD_ACCOUNT_ID", `["act_1", "2", "3"]`)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg.Facebook.AdAccountIDs, []string{"act_1", "2", "3"}) {
		t.Fatalf("ad_account_ids = %#v", cfg.Facebook.AdAccountIDs)
	}
}

func TestLoad_AccountListRejectsNonJSON(t *testing.T) {
	// A bare comma-separated list is not accepted; the variable is a JSON
	// array of strings or nothing.
	t.Setenv("FB_AD_ACCOUNT_ID", "111,222")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "FB_AD_ACCOUNT_ID") {
		t.Fatalf("err = %v, want FB_AD_ACCOUNT_ID decode failure", err)
	}
}

func TestLoad_BadNumberNamesVariable(t *testing.T) {
	t.Setenv("PIPELINE_CHUNK_DAYS", "often")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "PIPELINE_CHUNK_DAYS") {
		t.Fatalf("err = %v, want PIPELINE_CHUNK_DAYS parse failure", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err == nil {
		t.Fatal("Load of a missing file should fail")
	}
}

func TestLoad_BoolParsing(t *testing.T) {
	t.Setenv("PIPELINE_ENABLE_VALIDATION", "false")
	t.Setenv("PIPELINE_UPDATE_KPI_MAPPINGS", "1")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.EnableValidation {
		t.Fatal("enable_validation should be off")
	}
	if !cfg.Pipeline.UpdateKPIMappings {
		t.Fatal("update_kpi_mappings should be on")
	}
}

func TestWarehouseConfig_Mapping(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Warehouse.Kind = "bigquery"
	cfg.Warehouse.ProjectID = "ads-wh"
	cfg.Warehouse.Location = "EU"
	cfg.Warehouse.Credentials = `{"type":"service_account"}`

	wc := cfg.WarehouseConfig()
	if wc.Kind != "bigquery" || wc.Project != "ads-wh" || wc.Dataset != "raw_ads" || wc.Location != "EU" {
		t.Fatalf("warehouse.Config = %#v", wc)
	}
	if string(wc.Credentials) != `{"type":"service_account"}` {
		t.Fatalf("credentials = %q", wc.Credentials)
	}
}

func TestRedacted_MasksSecrets(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Facebook.AccessToken = "EAAB-very-secret"
	cfg.Facebook.AppID = "439812345678"
	cfg.Facebook.AppSecret = "shhh"
	cfg.Facebook.AdAccountIDs = []string{"111"}
	cfg.Warehouse.DSN = "postgresql://u:pw@host/db"
	cfg.Warehouse.Credentials = `{"private_key":"..."}`

	red := cfg.Redacted()
	b, err := json.Marshal(red)
	if err != nil {
		t.Fatalf("marshal redacted: %v", err)
	}
	s := string(b)
	for _, secret := range []string{"EAAB-very-secret", "shhh", "pw@host", "private_key"} {
		if strings.Contains(s, secret) {
			t.Fatalf("redacted output leaks %q: %s", secret, s)
		}
	}

	fb := red["facebook"].(map[string]any)
	if fb["access_token"] != "***" {
		t.Fatalf("access_token = %v, want ***", fb["access_token"])
	}
	if fb["app_id"] != "...5678" {
		t.Fatalf("app_id = %v, want tail only", fb["app_id"])
	}
	if !strings.Contains(s, "111") {
		t.Fatal("account IDs should remain visible")
	}
}
