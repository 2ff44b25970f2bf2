// Package records defines the canonical in-flight record representation
// shared by the source client, the validation/transform layer, and the
// warehouse loaders.
//
// A Record is a flat-ish map from field name to a decoded JSON value:
// string, json.Number, bool, nil, or (for repeated action groups) a slice
// of maps. Producers decode with json.Decoder.UseNumber so numeric fields
// keep their exact textual form until coercion decides their type.
package records

import "encoding/json"

// Record is one upstream row, keyed by field name.
type Record map[string]any

// Clone returns a shallow copy of r. Nested slices and maps are shared;
// callers that rewrite nested values must build fresh containers.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Has reports whether the field is present, regardless of its value.
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// String returns the field's value rendered as a string. json.Number keeps
// its exact textual form. Missing and nil fields return "".
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
