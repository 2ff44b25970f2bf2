package kpimap

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"adsync/pkg/records"
)

func mappingRow(account, friendly, action string) records.Record {
	return records.Record{
		"ad_account_id":      account,
		"user_friendly_name": friendly,
		"meta_action_type":   action,
	}
}

func TestResolvePrecedence(t *testing.T) {
	pixelRow := mappingRow("all", "Pixel Purchase", "offsite_conversion.fb_pixel_purchase")
	pixelRow["mapping_type"] = TypePixel
	store := &fakeStore{rows: []records.Record{
		mappingRow("all", "Lead", "lead"),
		mappingRow("123", "Lead", "offsite_conversion.custom.5"),
		mappingRow("all", "Purchase", "purchase"),
		pixelRow,
	}}
	r := NewResolver(store, "kpi_event_mapping")
	ctx := context.Background()

	cases := []struct {
		account, kpi string
		wantCode     string
		wantOK       bool
	}{
		{"123", "Lead", "offsite_conversion.custom.5", true},
		{"act_123", "Lead", "offsite_conversion.custom.5", true},
		{"999", "Lead", "lead", true},
		{"123", "Purchase", "purchase", true},
		// Pixel rows resolve like any other mapping type.
		{"123", "Pixel Purchase", "offsite_conversion.fb_pixel_purchase", true},
		{"123", "Nonexistent KPI", "", false},
	}
	for _, tc := range cases {
		code, ok, err := r.Resolve(ctx, tc.account, tc.kpi)
		if err != nil {
			t.Fatalf("Resolve(%s, %s): %v", tc.account, tc.kpi, err)
		}
		if code != tc.wantCode || ok != tc.wantOK {
			t.Errorf("Resolve(%s, %s) = %q %v, want %q %v",
				tc.account, tc.kpi, code, ok, tc.wantCode, tc.wantOK)
		}
	}
}

func TestResolveLoadsOnceUntilInvalidated(t *testing.T) {
	store := &fakeStore{rows: []records.Record{mappingRow("all", "Lead", "lead")}}
	r := NewResolver(store, "kpi_event_mapping")
	loadTime := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return loadTime }
	ctx := context.Background()

	if got := r.LastLoadedAt(); !got.IsZero() {
		t.Fatalf("LastLoadedAt before first resolve = %v, want zero", got)
	}
	for i := 0; i < 3; i++ {
		if _, _, err := r.Resolve(ctx, "1", "Lead"); err != nil {
			t.Fatalf("Resolve %d: %v", i, err)
		}
	}
	if store.queries != 1 {
		t.Fatalf("queries = %d, want one load for three resolves", store.queries)
	}
	if got := r.LastLoadedAt(); !got.Equal(loadTime) {
		t.Fatalf("LastLoadedAt = %v, want %v", got, loadTime)
	}

	r.Invalidate()
	if got := r.LastLoadedAt(); !got.IsZero() {
		t.Fatalf("LastLoadedAt after Invalidate = %v, want zero", got)
	}
	if _, _, err := r.Resolve(ctx, "1", "Lead"); err != nil {
		t.Fatalf("Resolve after Invalidate: %v", err)
	}
	if store.queries != 2 {
		t.Fatalf("queries = %d, want reload after Invalidate", store.queries)
	}
}

func TestResolveLoadErrorRetries(t *testing.T) {
	store := &fakeStore{queryErr: fmt.Errorf("warehouse down")}
	r := NewResolver(store, "kpi_event_mapping")
	ctx := context.Background()

	_, _, err := r.Resolve(ctx, "1", "Lead")
	if err == nil || !strings.Contains(err.Error(), "warehouse down") {
		t.Fatalf("err = %v, want load failure", err)
	}

	store.mu.Lock()
	store.queryErr = nil
	store.rows = []records.Record{mappingRow("all", "Lead", "lead")}
	store.mu.Unlock()

	code, ok, err := r.Resolve(ctx, "1", "Lead")
	if err != nil || !ok || code != "lead" {
		t.Fatalf("Resolve after recovery = %q %v %v", code, ok, err)
	}
	if store.queries != 2 {
		t.Fatalf("queries = %d, want a retry on next resolve", store.queries)
	}
}
