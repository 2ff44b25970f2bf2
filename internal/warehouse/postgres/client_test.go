package postgres

import (
	"strings"
	"testing"

	"adsync/internal/schema"
	"adsync/internal/warehouse"
)

func TestMergeSQL(t *testing.T) {
	t.Parallel()
	c := NewClient(nil, "")
	got := c.MergeSQL("ads_insights", "ads_insights_temp_x",
		[]string{"account_id", "ad_id"}, []string{"impressions", "actions"})

	want := `MERGE INTO "public"."ads_insights" T
USING "public"."ads_insights_temp_x" S
ON T."account_id" = S."account_id" AND T."ad_id" = S."ad_id"
WHEN MATCHED THEN
  UPDATE SET "impressions" = S."impressions", "actions" = S."actions"
WHEN NOT MATCHED THEN
  INSERT ("account_id", "ad_id", "impressions", "actions")
  VALUES (S."account_id", S."ad_id", S."impressions", S."actions")`
	if got != want {
		t.Errorf("MergeSQL:\n%s\nwant:\n%s", got, want)
	}
}

func TestUpdateMergeSQLHasNoInsertArm(t *testing.T) {
	t.Parallel()
	c := NewClient(nil, "analytics")
	got := c.UpdateMergeSQL("t", "s", []string{"k"}, []string{"v"})
	if strings.Contains(got, "NOT MATCHED") {
		t.Errorf("update merge contains insert arm:\n%s", got)
	}
	if !strings.Contains(got, `"analytics"."t"`) {
		t.Errorf("namespace not applied:\n%s", got)
	}
}

func TestCreateSQL(t *testing.T) {
	t.Parallel()
	ts := warehouse.TableSchema{
		Columns: []warehouse.Column{
			{Name: "account_id", Kind: schema.String},
			{Name: "date_start", Kind: schema.Date},
			{Name: "impressions", Kind: schema.Int64, Nullable: true},
			{Name: "spend", Kind: schema.Float64, Nullable: true},
			{Name: "actions", Kind: schema.Int64, Nullable: true, Repeated: true},
		},
		Keys: []string{"account_id", "date_start"},
	}

	got := createSQL(`"public"."ads_insights"`, ts)
	want := `CREATE TABLE IF NOT EXISTS "public"."ads_insights" (
  "account_id" TEXT NOT NULL,
  "date_start" DATE NOT NULL,
  "impressions" BIGINT,
  "spend" DOUBLE PRECISION,
  "actions" JSONB,
  PRIMARY KEY ("account_id", "date_start")
)`
	if got != want {
		t.Errorf("createSQL:\n%s\nwant:\n%s", got, want)
	}
}

func TestColumnFromPG(t *testing.T) {
	t.Parallel()
	cases := []struct {
		dataType string
		kind     schema.Kind
		repeated bool
	}{
		{"bigint", schema.Int64, false},
		{"double precision", schema.Float64, false},
		{"date", schema.Date, false},
		{"text", schema.String, false},
		{"jsonb", schema.String, true},
	}
	for _, tc := range cases {
		col := columnFromPG("c", tc.dataType, true)
		if col.Kind != tc.kind || col.Repeated != tc.repeated {
			t.Errorf("%s mapped to %+v", tc.dataType, col)
		}
	}
}

func TestPGIdentEscapes(t *testing.T) {
	t.Parallel()
	if got := pgIdent(`we"ird`); got != `"we""ird"` {
		t.Errorf("pgIdent = %s", got)
	}
}
