package transform

import (
	"fmt"
	"strconv"
	"time"

	"adsync/internal/schema"
	"adsync/pkg/records"
)

// Transformer coerces validated records into warehouse-native values.
//
// Coercion order is fixed: repeated groups first, then floats, then ints,
// then date re-validation. A failure at any step discards the whole record;
// the input is never mutated and no partial record is ever returned.
type Transformer struct {
	fields map[string]schema.Field
	lists  schema.FieldLists
}

// NewTransformer builds a Transformer for the named schema.
func NewTransformer(reg *schema.Registry, name string) (*Transformer, error) {
	fields, err := reg.Get(name)
	if err != nil {
		return nil, err
	}
	lists, err := reg.Lists(name)
	if err != nil {
		return nil, err
	}
	return &Transformer{fields: fields, lists: lists}, nil
}

// Transform returns a fresh record with every present field coerced to its
// warehouse-native type, or a nil record and an ErrTransformFailed-wrapped
// *FieldError describing the first failure.
//
// Native value mapping: Int64 fields become int64, Float64 fields float64,
// Date fields keep their validated YYYY-MM-DD string, repeated groups
// become []map[string]any with coerced element values. A present but empty
// repeated group becomes nil.
func (t *Transformer) Transform(rec records.Record) (records.Record, error) {
	out := rec.Clone()

	for _, field := range t.lists.Repeated {
		val, ok := out[field]
		if !ok {
			continue
		}
		converted, err := t.convertGroup(field, val)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransformFailed, err)
		}
		if converted == nil {
			out[field] = nil
		} else {
			out[field] = converted
		}
	}

	for _, field := range t.lists.Floats {
		val, ok := out[field]
		if !ok || val == nil {
			continue
		}
		f, err := strconv.ParseFloat(valueString(val), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransformFailed,
				&FieldError{Field: field, Index: -1, Reason: fmt.Sprintf("not a float: %v", val)})
		}
		out[field] = f
	}

	for _, field := range t.lists.Ints {
		val, ok := out[field]
		if !ok || val == nil {
			continue
		}
		n, err := strconv.ParseInt(valueString(val), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransformFailed,
				&FieldError{Field: field, Index: -1, Reason: fmt.Sprintf("not an int: %v", val)})
		}
		out[field] = n
	}

	for _, field := range t.lists.Dates {
		val, ok := out[field]
		if !ok || val == nil {
			continue
		}
		s := valueString(val)
		if _, err := time.Parse(schema.DateLayout, s); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransformFailed,
				&FieldError{Field: field, Index: -1, Reason: fmt.Sprintf("not a YYYY-MM-DD date: %v", val)})
		}
		out[field] = s
	}

	return out, nil
}

// convertGroup coerces one repeated-group value. An empty or nil group
// yields nil. Element values go through the field kind's coercion, with nil
// preserved only when the field is nullable; action_type is coerced to
// string. Any element failure aborts the whole group.
func (t *Transformer) convertGroup(field string, val any) ([]map[string]any, error) {
	if isEmptyGroup(val) {
		return nil, nil
	}
	list, ok := groupElems(val)
	if !ok {
		return nil, &FieldError{Field: field, Index: -1, Reason: fmt.Sprintf("not a list: %T", val)}
	}

	info := t.fields[field]
	out := make([]map[string]any, 0, len(list))
	for idx, elem := range list {
		m, ok := elem.(map[string]any)
		if !ok {
			return nil, &FieldError{Field: field, Index: idx, Reason: fmt.Sprintf("not a map: %T", elem)}
		}
		actionType, hasType := m["action_type"]
		value, hasValue := m["value"]
		if !hasType || !hasValue {
			return nil, &FieldError{Field: field, Index: idx, Reason: "missing action_type or value"}
		}

		var coerced any
		switch {
		case value == nil && info.Nullable:
			coerced = nil
		case value == nil:
			return nil, &FieldError{Field: field, Index: idx, Reason: "null value in non-nullable group"}
		default:
			var err error
			coerced, err = coerceKind(info.Kind, value)
			if err != nil {
				return nil, &FieldError{Field: field, Index: idx, Reason: err.Error()}
			}
		}

		out = append(out, map[string]any{
			"action_type": valueString(actionType),
			"value":       coerced,
		})
	}
	return out, nil
}

// coerceKind converts a non-nil value through the kind's constructor.
func coerceKind(k schema.Kind, v any) (any, error) {
	s := valueString(v)
	switch k {
	case schema.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an int: %v", v)
		}
		return n, nil
	case schema.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("not a float: %v", v)
		}
		return f, nil
	case schema.Date:
		if _, err := time.Parse(schema.DateLayout, s); err != nil {
			return nil, fmt.Errorf("not a YYYY-MM-DD date: %v", v)
		}
		return s, nil
	default:
		return s, nil
	}
}
