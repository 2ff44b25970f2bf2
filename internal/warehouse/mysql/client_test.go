package mysql

import (
	"strings"
	"testing"

	"adsync/internal/schema"
	"adsync/internal/warehouse"
)

func TestMergeSQL(t *testing.T) {
	t.Parallel()
	c := NewClient(nil)
	got := c.MergeSQL("ads_insights", "ads_insights_temp_x",
		[]string{"account_id", "ad_id"}, []string{"impressions", "actions"})

	want := "INSERT INTO `ads_insights` (`account_id`, `ad_id`, `impressions`, `actions`)\n" +
		"SELECT S.`account_id`, S.`ad_id`, S.`impressions`, S.`actions` FROM `ads_insights_temp_x` AS S\n" +
		"ON DUPLICATE KEY UPDATE `ads_insights`.`impressions` = S.`impressions`, `ads_insights`.`actions` = S.`actions`"
	if got != want {
		t.Errorf("MergeSQL:\n%s\nwant:\n%s", got, want)
	}
}

func TestUpdateMergeSQLJoins(t *testing.T) {
	t.Parallel()
	c := NewClient(nil)
	got := c.UpdateMergeSQL("t", "s", []string{"k1", "k2"}, []string{"v"})

	want := "UPDATE `t` AS T\n" +
		"INNER JOIN `s` AS S ON T.`k1` = S.`k1` AND T.`k2` = S.`k2`\n" +
		"SET T.`v` = S.`v`"
	if got != want {
		t.Errorf("UpdateMergeSQL:\n%s\nwant:\n%s", got, want)
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

	got := createSQL("t", ts)
	for _, frag := range []string{
		"CREATE TABLE IF NOT EXISTS `t`",
		"`ad_id` VARCHAR(255) NOT NULL",
		"`date_start` DATE NOT NULL",
		"`clicks` BIGINT",
		"`ctr` DOUBLE",
		"`actions` JSON",
		"PRIMARY KEY (`ad_id`, `date_start`)",
	} {
		if !strings.Contains(got, frag) {
			t.Errorf("createSQL missing %q:\n%s", frag, got)
		}
	}
}

func TestColumnFromMy(t *testing.T) {
	t.Parallel()
	cases := []struct {
		dataType string
		kind     schema.Kind
		repeated bool
	}{
		{"bigint", schema.Int64, false},
		{"double", schema.Float64, false},
		{"date", schema.Date, false},
		{"varchar", schema.String, false},
		{"json", schema.String, true},
	}
	for _, tc := range cases {
		col := columnFromMy("c", tc.dataType, true)
		if col.Kind != tc.kind || col.Repeated != tc.repeated {
			t.Errorf("%s mapped to %+v", tc.dataType, col)
		}
	}
}

func TestMyIdentEscapes(t *testing.T) {
	t.Parallel()
	if got := myIdent("we`ird"); got != "`we``ird`" {
		t.Errorf("myIdent = %s", got)
	}
}
