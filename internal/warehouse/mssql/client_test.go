package mssql

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
		[]string{"account_id", "ad_id"}, []string{"impressions"})

	want := `MERGE [dbo].[ads_insights] AS T
USING [dbo].[ads_insights_temp_x] AS S
ON T.[account_id] = S.[account_id] AND T.[ad_id] = S.[ad_id]
WHEN MATCHED THEN
  UPDATE SET T.[impressions] = S.[impressions]
WHEN NOT MATCHED THEN
  INSERT ([account_id], [ad_id], [impressions])
  VALUES (S.[account_id], S.[ad_id], S.[impressions]);`
	if got != want {
		t.Errorf("MergeSQL:\n%s\nwant:\n%s", got, want)
	}
	if !strings.HasSuffix(got, ";") {
		t.Error("T-SQL MERGE must end with a semicolon")
	}
}

func TestUpdateMergeSQLEndsWithSemicolon(t *testing.T) {
	t.Parallel()
	c := NewClient(nil, "stage")
	got := c.UpdateMergeSQL("t", "s", []string{"k"}, []string{"v"})
	if !strings.HasSuffix(got, ";") {
		t.Errorf("missing trailing semicolon:\n%s", got)
	}
	if strings.Contains(got, "NOT MATCHED") {
		t.Errorf("update merge contains insert arm:\n%s", got)
	}
	if !strings.Contains(got, "[stage].[t]") {
		t.Errorf("namespace not applied:\n%s", got)
	}
}

func TestCreateSQL(t *testing.T) {
	t.Parallel()
	ts := warehouse.TableSchema{
		Columns: []warehouse.Column{
			{Name: "ad_id", Kind: schema.String},
			{Name: "date_start", Kind: schema.Date},
			{Name: "clicks", Kind: schema.Int64, Nullable: true},
			{Name: "ctr", Kind: schema.Float64, Nullable: true},
			{Name: "actions", Kind: schema.Int64, Nullable: true, Repeated: true},
		},
		Keys: []string{"ad_id", "date_start"},
	}

	got := createSQL("dbo", "t", ts)
	for _, frag := range []string{
		"IF OBJECT_ID(N'dbo.t', N'U') IS NULL",
		"[ad_id] NVARCHAR(255) NOT NULL",
		"[date_start] DATE NOT NULL",
		"[clicks] BIGINT",
		"[ctr] FLOAT",
		"[actions] NVARCHAR(MAX)",
		"PRIMARY KEY ([ad_id], [date_start])",
	} {
		if !strings.Contains(got, frag) {
			t.Errorf("createSQL missing %q:\n%s", frag, got)
		}
	}
}

func TestMSIdentEscapes(t *testing.T) {
	t.Parallel()
	if got := msIdent("we]ird"); got != "[we]]ird]" {
		t.Errorf("msIdent = %s", got)
	}
}
