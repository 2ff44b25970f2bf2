package transform

import (
	"encoding/json"
	"strings"
	"testing"

	"adsync/internal/schema"
	"adsync/pkg/records"
)

func newTestValidator(t *testing.T) (*Validator, *Transformer) {
	t.Helper()
	reg := schema.Default()
	v, err := NewValidator(reg, schema.Insights)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	tr, err := NewTransformer(reg, schema.Insights)
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}
	return v, tr
}

// decode builds a record the way the source client does, keeping numbers as
// json.Number.
func decode(t *testing.T, raw string) records.Record {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var rec records.Record
	if err := dec.Decode(&rec); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return rec
}

func goodRecord(t *testing.T) records.Record {
	return decode(t, `{
		"account_id": "act1", "ad_id": "ad1",
		"date_start": "2024-03-01", "date_stop": "2024-03-01",
		"impressions": "1200", "clicks": 34, "spend": "12.55",
		"ctr": "0.0283",
		"actions": [
			{"action_type": "purchase", "value": "3"},
			{"action_type": "link_click", "value": 17}
		],
		"website_ctr": [{"action_type": "link_click", "value": "0.031"}]
	}`)
}

func TestValidateCleanRecord(t *testing.T) {
	t.Parallel()

	v, _ := newTestValidator(t)
	ok, issues := v.Validate(goodRecord(t))
	if !ok || len(issues) != 0 {
		t.Fatalf("valid record rejected: %v", issues)
	}
}

func TestValidateCollectsAllIssues(t *testing.T) {
	t.Parallel()

	v, _ := newTestValidator(t)
	rec := decode(t, `{
		"spend": "abc",
		"impressions": "12.5",
		"date_start": "03/01/2024",
		"actions": "oops"
	}`)
	ok, issues := v.Validate(rec)
	if ok {
		t.Fatalf("want invalid")
	}
	if len(issues) != 4 {
		t.Fatalf("issues = %v, want 4 entries", issues)
	}
	wantSubstrings := []string{
		"Invalid float value in spend: abc",
		"Invalid int value in impressions: 12.5",
		"Invalid date value in date_start: 03/01/2024",
		"actions is not a list",
	}
	for _, want := range wantSubstrings {
		found := false
		for _, got := range issues {
			if strings.Contains(got, want) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("issues %v missing %q", issues, want)
		}
	}
}

func TestValidateRepeatedGroupElements(t *testing.T) {
	t.Parallel()

	v, _ := newTestValidator(t)
	rec := decode(t, `{
		"actions": [
			{"action_type": "purchase", "value": "3"},
			"not-a-map",
			{"action_type": "lead"},
			{"value": 5}
		]
	}`)
	ok, issues := v.Validate(rec)
	if ok {
		t.Fatalf("want invalid")
	}
	if len(issues) != 3 {
		t.Fatalf("issues = %v, want 3 entries", issues)
	}
	for i, want := range []string{
		"Item 1 in actions is not a map",
		"Item 2 in actions missing required keys",
		"Item 3 in actions missing required keys",
	} {
		if !strings.Contains(issues[i], want) {
			t.Fatalf("issues[%d] = %q, want substring %q", i, issues[i], want)
		}
	}
}

func TestValidateSkipsEmptyAndNull(t *testing.T) {
	t.Parallel()

	v, _ := newTestValidator(t)
	rec := decode(t, `{"spend": null, "actions": [], "unique_actions": null}`)
	ok, issues := v.Validate(rec)
	if !ok {
		t.Fatalf("null/empty fields should not produce issues: %v", issues)
	}
}

// Validation must be idempotent and leave the record untouched.
func TestValidateDoesNotMutate(t *testing.T) {
	t.Parallel()

	v, _ := newTestValidator(t)
	rec := goodRecord(t)
	before := rec.String("impressions")
	for i := 0; i < 3; i++ {
		ok1, _ := v.Validate(rec)
		ok2, _ := v.Validate(rec)
		if ok1 != ok2 {
			t.Fatalf("validate not idempotent")
		}
	}
	if rec.String("impressions") != before {
		t.Fatalf("validate mutated the record")
	}
	if _, isNumber := rec["clicks"].(json.Number); !isNumber {
		t.Fatalf("validate changed a value's type: %T", rec["clicks"])
	}
}

func TestValidateBatchPartitions(t *testing.T) {
	t.Parallel()

	v, tr := newTestValidator(t)
	recs := []records.Record{
		goodRecord(t),
		decode(t, `{"spend": "bad"}`),
		goodRecord(t),
	}
	res := v.ValidateBatch(tr, recs, false)
	if len(res.Valid) != 2 {
		t.Fatalf("valid = %d, want 2", len(res.Valid))
	}
	if len(res.Invalid) != 1 {
		t.Fatalf("invalid = %d, want 1", len(res.Invalid))
	}
	if !strings.Contains(res.Invalid[0].Issues[0], "Invalid float value in spend") {
		t.Fatalf("unexpected issues: %v", res.Invalid[0].Issues)
	}
}

func TestValidateBatchStopOnFirstError(t *testing.T) {
	t.Parallel()

	v, tr := newTestValidator(t)
	recs := []records.Record{
		goodRecord(t),
		decode(t, `{"impressions": "nope"}`),
		goodRecord(t),
		decode(t, `{"spend": "also-bad"}`),
	}
	res := v.ValidateBatch(tr, recs, true)
	if len(res.Valid) != 1 {
		t.Fatalf("valid = %d, want 1 (scan must stop after first invalid)", len(res.Valid))
	}
	if len(res.Invalid) != 1 {
		t.Fatalf("invalid = %d, want 1", len(res.Invalid))
	}
}

// A record that validates but cannot be transformed is reclassified with a
// fixed issue string, and does not short-circuit the scan.
func TestValidateBatchReclassifiesTransformFailure(t *testing.T) {
	t.Parallel()

	v, tr := newTestValidator(t)
	// actions passes validation (keys present) but the element value cannot
	// be coerced to int64, so transformation fails.
	bad := decode(t, `{"actions": [{"action_type": "purchase", "value": "2.5"}]}`)
	recs := []records.Record{bad, goodRecord(t)}

	res := v.ValidateBatch(tr, recs, true)
	if len(res.Invalid) != 1 {
		t.Fatalf("invalid = %d, want 1", len(res.Invalid))
	}
	if got := res.Invalid[0].Issues; len(got) != 1 || got[0] != "Transformation failed" {
		t.Fatalf("issues = %v, want [Transformation failed]", got)
	}
	if len(res.Valid) != 1 {
		t.Fatalf("valid = %d, want 1 (transform failure must not stop the scan)", len(res.Valid))
	}
}

// Transforming a valid record never reintroduces validation issues.
func TestTransformThenValidateClean(t *testing.T) {
	t.Parallel()

	v, tr := newTestValidator(t)
	out, err := tr.Transform(goodRecord(t))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	ok, issues := v.Validate(out)
	if !ok {
		t.Fatalf("transformed record failed validation: %v", issues)
	}
}
