package transform

import (
	"fmt"
	"strconv"
	"time"

	"adsync/internal/schema"
	"adsync/pkg/records"
)

// Validator checks raw records against one registered schema. Field lists
// are precomputed at construction; Validate itself does no allocation
// beyond the issue slice.
type Validator struct {
	fields map[string]schema.Field
	lists  schema.FieldLists
}

// NewValidator builds a Validator for the named schema.
func NewValidator(reg *schema.Registry, name string) (*Validator, error) {
	fields, err := reg.Get(name)
	if err != nil {
		return nil, err
	}
	lists, err := reg.Lists(name)
	if err != nil {
		return nil, err
	}
	return &Validator{fields: fields, lists: lists}, nil
}

// Validate reports whether rec conforms to the schema, collecting every
// issue rather than stopping at the first. The record is not modified.
func (v *Validator) Validate(rec records.Record) (bool, []string) {
	var issues []string

	for _, field := range v.lists.Floats {
		if val, ok := rec[field]; ok && val != nil {
			if _, err := strconv.ParseFloat(valueString(val), 64); err != nil {
				issues = append(issues, fmt.Sprintf("Invalid float value in %s: %v", field, val))
			}
		}
	}
	for _, field := range v.lists.Ints {
		if val, ok := rec[field]; ok && val != nil {
			if _, err := strconv.ParseInt(valueString(val), 10, 64); err != nil {
				issues = append(issues, fmt.Sprintf("Invalid int value in %s: %v", field, val))
			}
		}
	}
	for _, field := range v.lists.Dates {
		if val, ok := rec[field]; ok && val != nil {
			if _, err := time.Parse(schema.DateLayout, valueString(val)); err != nil {
				issues = append(issues, fmt.Sprintf("Invalid date value in %s: %v", field, val))
			}
		}
	}

	for _, field := range v.lists.Repeated {
		val, ok := rec[field]
		if !ok || isEmptyGroup(val) {
			continue
		}
		list, ok := groupElems(val)
		if !ok {
			issues = append(issues, fmt.Sprintf("%s is not a list: %T", field, val))
			continue
		}
		for idx, elem := range list {
			m, ok := elem.(map[string]any)
			if !ok {
				issues = append(issues, fmt.Sprintf("Item %d in %s is not a map: %T", idx, field, elem))
				continue
			}
			if _, hasType := m["action_type"]; !hasType {
				issues = append(issues, fmt.Sprintf("Item %d in %s missing required keys: %v", idx, field, m))
				continue
			}
			if _, hasValue := m["value"]; !hasValue {
				issues = append(issues, fmt.Sprintf("Item %d in %s missing required keys: %v", idx, field, m))
			}
		}
	}

	return len(issues) == 0, issues
}

// isEmptyGroup reports whether a repeated-group value is absent for
// validation purposes: nil or a zero-length sequence.
func isEmptyGroup(v any) bool {
	if v == nil {
		return true
	}
	l, ok := groupElems(v)
	return ok && len(l) == 0
}

// groupElems returns a repeated-group value as a generic element slice.
// Both the decoded form ([]any) and the transformed form ([]map[string]any)
// are sequences.
func groupElems(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

// ValidateBatch validates then transforms each record. Records that
// validate but fail transformation are reclassified invalid with the single
// issue "Transformation failed". When stopOnFirstError is set, scanning
// stops after the first validation-invalid record (a transform
// reclassification does not short-circuit); remaining records appear in
// neither list.
func (v *Validator) ValidateBatch(t *Transformer, recs []records.Record, stopOnFirstError bool) BatchResult {
	var out BatchResult
	for _, rec := range recs {
		ok, issues := v.Validate(rec)
		if ok {
			transformed, err := t.Transform(rec)
			if err != nil {
				out.Invalid = append(out.Invalid, Rejected{Record: rec, Issues: []string{"Transformation failed"}})
				continue
			}
			out.Valid = append(out.Valid, transformed)
			continue
		}
		out.Invalid = append(out.Invalid, Rejected{Record: rec, Issues: issues})
		if stopOnFirstError {
			break
		}
	}
	return out
}
