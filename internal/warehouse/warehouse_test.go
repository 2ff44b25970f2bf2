package warehouse

import (
	"context"
	"strings"
	"testing"

	"adsync/internal/schema"
)

func TestOpenUnknownKind(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Kind: "teradata"})
	if err == nil {
		t.Fatal("unregistered kind accepted")
	}
	if !strings.Contains(err.Error(), "teradata") {
		t.Errorf("error does not name the kind: %v", err)
	}
}

func TestRegisterAndOpen(t *testing.T) {
	t.Parallel()
	fc := newFakeClient()
	var gotCfg Config
	Register("fake_registry_test", func(ctx context.Context, cfg Config) (Client, error) {
		gotCfg = cfg
		return fc, nil
	})

	c, err := Open(context.Background(), Config{Kind: "fake_registry_test", DSN: "dsn://x"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c != Client(fc) {
		t.Error("Open returned a different client")
	}
	if gotCfg.DSN != "dsn://x" {
		t.Errorf("constructor got DSN %q", gotCfg.DSN)
	}

	var found bool
	for _, k := range Kinds() {
		if k == "fake_registry_test" {
			found = true
		}
	}
	if !found {
		t.Errorf("Kinds() = %v, missing registered kind", Kinds())
	}
}

func TestFromFields(t *testing.T) {
	t.Parallel()
	fields := []schema.Field{
		{Name: "ad_id", Kind: schema.String},
		{Name: "impressions", Kind: schema.Int64, Nullable: true},
		{Name: "actions", Kind: schema.Int64, Nullable: true, Repeated: true},
	}
	ts := FromFields(fields, []string{"ad_id"})

	if len(ts.Columns) != 3 {
		t.Fatalf("got %d columns, want 3", len(ts.Columns))
	}
	if ts.Columns[0].Name != "ad_id" || ts.Columns[0].Nullable {
		t.Errorf("ad_id = %+v", ts.Columns[0])
	}
	if !ts.Columns[2].Repeated {
		t.Errorf("actions = %+v, want repeated", ts.Columns[2])
	}
	if len(ts.Keys) != 1 || ts.Keys[0] != "ad_id" {
		t.Errorf("keys = %v", ts.Keys)
	}
}
