package warehouse

import (
	"encoding/json"
	"fmt"

	"adsync/internal/schema"
	"adsync/pkg/records"
)

// RowValues converts one record into positional values following the table
// schema's column order. Missing and nil fields become nil. Repeated groups
// are serialized to JSON text, the storage form used by the flat SQL
// backends; the bigquery backend does not use this helper and keeps groups
// nested.
func RowValues(ts TableSchema, rec records.Record) ([]any, error) {
	out := make([]any, len(ts.Columns))
	for i, col := range ts.Columns {
		v, ok := rec[col.Name]
		if !ok || v == nil {
			out[i] = nil
			continue
		}
		if col.Repeated {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: marshal repeated group: %w", col.Name, err)
			}
			out[i] = string(b)
			continue
		}
		val, err := scalarValue(col, v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		out[i] = val
	}
	return out, nil
}

// scalarValue coerces an already-transformed value into the driver-level
// type for its column kind. json.Number is accepted for rows that did not
// pass through the transformer (mapping rows, two-phase loads).
func scalarValue(col Column, v any) (any, error) {
	switch col.Kind {
	case schema.Int64:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("not an int: %v", v)
			}
			return i, nil
		}
	case schema.Float64:
		switch f := v.(type) {
		case float64:
			return f, nil
		case int64:
			return float64(f), nil
		case json.Number:
			fl, err := f.Float64()
			if err != nil {
				return nil, fmt.Errorf("not a float: %v", v)
			}
			return fl, nil
		}
	case schema.Date, schema.String:
		switch s := v.(type) {
		case string:
			return s, nil
		case json.Number:
			return s.String(), nil
		}
	}
	return nil, fmt.Errorf("unsupported %s value %v (%T)", col.Kind, v, v)
}

// Chunks splits recs into consecutive slices of at most size records.
// size must be positive.
func Chunks(recs []records.Record, size int) [][]records.Record {
	if size <= 0 {
		return nil
	}
	out := make([][]records.Record, 0, (len(recs)+size-1)/size)
	for start := 0; start < len(recs); start += size {
		end := start + size
		if end > len(recs) {
			end = len(recs)
		}
		out = append(out, recs[start:end])
	}
	return out
}

// keyString renders a record's identity-key tuple for set membership,
// NUL-separating parts so composite values cannot collide.
func keyString(rec records.Record, keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "\x00"
		}
		out += rec.String(k)
	}
	return out
}
