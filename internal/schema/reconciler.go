package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	etlerrors "github.com/clickstream/etl/internal/errors"
	"github.com/clickstream/etl/pkg/types"
)

// ValidationError names the field that does not match the canonical schema.
type ValidationError struct {
	// Field is the dotted path of the offending field, e.g. device.screen_width
	Field    string
	Expected string
	Actual   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

// Reconciler checks records against the canonical schema. It never coerces
// values: a record is accepted only when every field is present with the
// exact shape and Go kind the schema declares.
type Reconciler struct {
	root FieldDef
}

// NewReconciler creates a reconciler for the canonical schema.
func NewReconciler() *Reconciler {
	return &Reconciler{root: canonical}
}

// Validate checks rec and decodes it into an Event.
func (r *Reconciler) Validate(rec types.Record) (*types.Event, error) {
	if err := checkStruct("", r.root, map[string]any(rec)); err != nil {
		return nil, err
	}

	var ev types.Event
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &ev,
		TagName:     "mapstructure",
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(map[string]any(rec)); err != nil {
		return nil, &ValidationError{Field: "<record>", Expected: "decodable event", Actual: err.Error()}
	}
	return &ev, nil
}

// ReconcileAll validates every record of ds. The first violation aborts
// with a schema error.
func (r *Reconciler) ReconcileAll(ds *types.Dataset) ([]*types.Event, error) {
	events := make([]*types.Event, 0, ds.Len())
	if ds == nil {
		return events, nil
	}
	for i, rec := range ds.Records {
		ev, err := r.Validate(rec)
		if err != nil {
			details := map[string]interface{}{"record": i}
			if verr, ok := err.(*ValidationError); ok {
				details["field"] = verr.Field
				details["expected"] = verr.Expected
				details["actual"] = verr.Actual
			}
			return nil, etlerrors.NewSchemaError(
				fmt.Sprintf("record %d violates the canonical schema", i), err).WithDetails(details)
		}
		events = append(events, ev)
	}
	return events, nil
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func checkStruct(path string, def FieldDef, m map[string]any) error {
	for _, f := range def.Fields {
		v, ok := m[f.Name]
		if !ok {
			return &ValidationError{Field: join(path, f.Name), Expected: f.Shape(), Actual: "missing"}
		}
		if err := checkValue(join(path, f.Name), f, v); err != nil {
			return err
		}
	}
	if len(m) != len(def.Fields) {
		var extra []string
		for k := range m {
			if _, ok := def.Field(k); !ok {
				extra = append(extra, k)
			}
		}
		sort.Strings(extra)
		return &ValidationError{Field: join(path, extra[0]), Expected: "absent", Actual: describe(m[extra[0]])}
	}
	return nil
}

func checkValue(path string, def FieldDef, v any) error {
	if v == nil {
		if def.Nullable {
			return nil
		}
		return &ValidationError{Field: path, Expected: "non-null " + def.Shape(), Actual: "null"}
	}

	mismatch := func() error {
		return &ValidationError{Field: path, Expected: def.Shape(), Actual: describe(v)}
	}
	switch def.Type {
	case TypeString:
		if _, ok := v.(string); !ok {
			return mismatch()
		}
	case TypeLong:
		if _, ok := v.(int64); !ok {
			return mismatch()
		}
	case TypeDouble:
		if _, ok := v.(float64); !ok {
			return mismatch()
		}
	case TypeStruct:
		m, ok := v.(map[string]any)
		if !ok {
			return mismatch()
		}
		return checkStruct(path, def, m)
	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			return mismatch()
		}
		for i, elem := range arr {
			if err := checkValue(fmt.Sprintf("%s[%d]", path, i), *def.Elem, elem); err != nil {
				return err
			}
		}
	default:
		return &ValidationError{Field: path, Expected: def.Shape(), Actual: "unknown schema type"}
	}
	return nil
}

// describe renders the shape of an actual value.
func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case int64:
		return "long"
	case float64:
		return "double"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "struct<" + strings.Join(keys, ",") + ">"
	case []any:
		return fmt.Sprintf("array[%d]", len(x))
	default:
		return fmt.Sprintf("%T", v)
	}
}
