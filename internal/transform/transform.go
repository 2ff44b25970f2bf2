// Package transform validates raw upstream records against a schema and
// coerces them into warehouse-native values.
//
// Validation is exhaustive and side-effect-free: every issue in a record is
// collected and reported, nothing is raised, and the input is never
// mutated. Transformation is all-or-nothing per record: any coercion
// failure discards the whole record, never producing a partial one.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"

	"adsync/pkg/records"
)

// ErrTransformFailed marks any record-level coercion failure. Wrap details
// live in the FieldError underneath.
var ErrTransformFailed = errors.New("transform failed")

// FieldError describes the first coercion failure inside a record. Index is
// the element index for repeated-group fields, -1 for scalars.
type FieldError struct {
	Field  string
	Index  int
	Reason string
}

func (e *FieldError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("field %s[%d]: %s", e.Field, e.Index, e.Reason)
	}
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

// Rejected pairs an input record with the issues that disqualified it.
type Rejected struct {
	Record records.Record `json:"record"`
	Issues []string       `json:"issues"`
}

// BatchResult partitions a batch into transformed valid records and
// rejected ones.
type BatchResult struct {
	Valid   []records.Record
	Invalid []Rejected
}

// valueString renders a field value the way coercion sees it. json.Number
// keeps its exact decoded text, so "12.0" stays distinguishable from "12".
func valueString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		if s {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}
