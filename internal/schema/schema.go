// Package schema is the declarative catalog of warehouse table shapes.
//
// Each table schema maps a field name to a Field describing the semantic
// kind of the column, its nullability, and whether the field is a repeated
// action group (a variable-length sequence of {action_type, value} pairs).
// The registry is built once from static catalogs and never mutated; both
// validation and transformation read from it.
package schema

import (
	"fmt"
	"sort"
)

// Kind is the closed set of semantic column types.
type Kind string

const (
	Int64   Kind = "int64"
	Float64 Kind = "float64"
	Date    Kind = "date" // stored as a YYYY-MM-DD string
	String  Kind = "string"
)

// DateLayout is the canonical date format for Date fields.
const DateLayout = "2006-01-02"

// Field describes one warehouse column.
//
// For Repeated fields, Kind describes the type of each element's "value";
// the element's "action_type" is always a string. A field is either a
// scalar or a repeated group, never both.
type Field struct {
	Name        string
	Kind        Kind
	Nullable    bool
	Repeated    bool
	Description string
}

// FieldLists partitions a schema's fields by semantic kind. The slices are
// sorted by name so iteration order is deterministic.
type FieldLists struct {
	Floats   []string
	Ints     []string
	Dates    []string
	Strings  []string
	Repeated []string
}

// ErrUnknownSchema is returned by Get for a name with no registered schema.
var ErrUnknownSchema = fmt.Errorf("unknown schema")

// Registry holds immutable table schemas keyed by name.
type Registry struct {
	fields map[string]map[string]Field
	order  map[string][]Field
}

// NewRegistry builds a registry from the given catalogs. Field slices are
// copied so later mutation of the inputs cannot leak in; slice order is
// preserved as the canonical column order.
func NewRegistry(catalogs map[string][]Field) *Registry {
	r := &Registry{
		fields: make(map[string]map[string]Field, len(catalogs)),
		order:  make(map[string][]Field, len(catalogs)),
	}
	for name, fields := range catalogs {
		m := make(map[string]Field, len(fields))
		for _, f := range fields {
			m[f.Name] = f
		}
		r.fields[name] = m
		r.order[name] = append([]Field(nil), fields...)
	}
	return r
}

// Default returns the registry holding the built-in catalogs.
func Default() *Registry {
	return NewRegistry(map[string][]Field{
		Insights:   insightsFields,
		KPIMapping: kpiMappingFields,
	})
}

// Get returns the field map for the named schema.
func (r *Registry) Get(name string) (map[string]Field, error) {
	s, ok := r.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	return s, nil
}

// Lists partitions the named schema's fields by kind.
func (r *Registry) Lists(name string) (FieldLists, error) {
	s, err := r.Get(name)
	if err != nil {
		return FieldLists{}, err
	}
	var fl FieldLists
	for _, f := range s {
		switch {
		case f.Repeated:
			fl.Repeated = append(fl.Repeated, f.Name)
		case f.Kind == Float64:
			fl.Floats = append(fl.Floats, f.Name)
		case f.Kind == Int64:
			fl.Ints = append(fl.Ints, f.Name)
		case f.Kind == Date:
			fl.Dates = append(fl.Dates, f.Name)
		default:
			fl.Strings = append(fl.Strings, f.Name)
		}
	}
	sort.Strings(fl.Floats)
	sort.Strings(fl.Ints)
	sort.Strings(fl.Dates)
	sort.Strings(fl.Strings)
	sort.Strings(fl.Repeated)
	return fl, nil
}

// Columns returns the named schema's fields in catalog order, which is the
// column order loaders use when building rows.
func (r *Registry) Columns(name string) ([]Field, error) {
	cols, ok := r.order[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	return append([]Field(nil), cols...), nil
}
