package schema

import (
	"errors"
	"strings"
	"testing"
)

func TestGetUnknownSchema(t *testing.T) {
	t.Parallel()

	r := Default()
	_, err := r.Get("nope")
	if err == nil {
		t.Fatalf("Get(nope): want error, got nil")
	}
	if !errors.Is(err, ErrUnknownSchema) {
		t.Fatalf("Get(nope): err = %v, want ErrUnknownSchema", err)
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Fatalf("error %q does not name the schema", err)
	}
}

func TestInsightsLists(t *testing.T) {
	t.Parallel()

	r := Default()
	fl, err := r.Lists(Insights)
	if err != nil {
		t.Fatalf("Lists: %v", err)
	}

	if got, want := len(fl.Floats), 9; got != want {
		t.Fatalf("floats: %d, want %d (%v)", got, want, fl.Floats)
	}
	if got, want := len(fl.Ints), 5; got != want {
		t.Fatalf("ints: %d, want %d (%v)", got, want, fl.Ints)
	}
	if got, want := len(fl.Dates), 2; got != want {
		t.Fatalf("dates: %d, want %d (%v)", got, want, fl.Dates)
	}
	if got, want := len(fl.Strings), 14; got != want {
		t.Fatalf("strings: %d, want %d (%v)", got, want, fl.Strings)
	}
	if got, want := len(fl.Repeated), 12; got != want {
		t.Fatalf("repeated: %d, want %d (%v)", got, want, fl.Repeated)
	}

	// A repeated field must never show up in a scalar list.
	for _, name := range fl.Repeated {
		for _, s := range [][]string{fl.Floats, fl.Ints, fl.Dates, fl.Strings} {
			for _, other := range s {
				if other == name {
					t.Fatalf("field %q is both repeated and scalar", name)
				}
			}
		}
	}
}

// The insights identity key is (account_id, ad_id, date_start). The legacy
// (date_start, date_stop, ad_id) convention is not used anywhere; rows are
// daily grain, so two records differing only in date_stop address the same
// warehouse row.
func TestInsightsKeyColumns(t *testing.T) {
	t.Parallel()

	got := InsightsKeyColumns()
	want := []string{"account_id", "ad_id", "date_start"}
	if len(got) != len(want) {
		t.Fatalf("key columns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("key columns = %v, want %v", got, want)
		}
	}

	fields, err := Default().Get(Insights)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, k := range got {
		if _, ok := fields[k]; !ok {
			t.Fatalf("key column %q not in insights schema", k)
		}
	}
}

func TestColumnsOrderStable(t *testing.T) {
	t.Parallel()

	r := Default()
	a, err := r.Columns(Insights)
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	b, _ := r.Columns(Insights)
	if len(a) != len(b) {
		t.Fatalf("column count changed between calls: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			t.Fatalf("column order unstable at %d: %s vs %s", i, a[i].Name, b[i].Name)
		}
	}
	if a[0].Name != "account_id" {
		t.Fatalf("first column = %s, want account_id", a[0].Name)
	}

	// Mutating the returned slice must not leak into the registry.
	a[0].Name = "mutated"
	c, _ := r.Columns(Insights)
	if c[0].Name != "account_id" {
		t.Fatalf("registry columns mutated through returned slice")
	}
}

func TestKPIMappingRequiredFields(t *testing.T) {
	t.Parallel()

	fields, err := Default().Get(KPIMapping)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, name := range []string{"user_friendly_name", "meta_action_type"} {
		f, ok := fields[name]
		if !ok {
			t.Fatalf("missing field %q", name)
		}
		if f.Nullable {
			t.Fatalf("%s must be non-nullable", name)
		}
	}
	if _, ok := fields["source_conversion_id"]; !ok {
		t.Fatalf("missing source_conversion_id")
	}
}
