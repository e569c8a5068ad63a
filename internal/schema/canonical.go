// Package schema holds the canonical output schema and the reconciler that
// checks processed records against it.
package schema

import "github.com/clickstream/etl/pkg/types"

// Type is the logical type of a field.
type Type string

const (
	TypeString Type = "string"
	TypeLong   Type = "long"
	TypeDouble Type = "double"
	TypeStruct Type = "struct"
	TypeArray  Type = "array"
)

// FieldDef describes one field of the canonical schema.
type FieldDef struct {
	Name     string
	Type     Type
	Nullable bool

	// Fields lists the members of a struct
	Fields []FieldDef

	// Elem is the element type of an array
	Elem *FieldDef
}

// Field returns the member of a struct definition by name.
func (f FieldDef) Field(name string) (FieldDef, bool) {
	for _, m := range f.Fields {
		if m.Name == name {
			return m, true
		}
	}
	return FieldDef{}, false
}

// Shape renders the definition as a compact type string, used in
// validation errors: struct<a:string,b:long>, array<...>.
func (f FieldDef) Shape() string {
	switch f.Type {
	case TypeStruct:
		s := "struct<"
		for i, m := range f.Fields {
			if i > 0 {
				s += ","
			}
			s += m.Name + ":" + m.Shape()
		}
		return s + ">"
	case TypeArray:
		return "array<" + f.Elem.Shape() + ">"
	default:
		return string(f.Type)
	}
}

func str(name string) FieldDef  { return FieldDef{Name: name, Type: TypeString, Nullable: true} }
func long(name string) FieldDef { return FieldDef{Name: name, Type: TypeLong, Nullable: true} }
func dbl(name string) FieldDef  { return FieldDef{Name: name, Type: TypeDouble, Nullable: true} }

func required(f FieldDef) FieldDef {
	f.Nullable = false
	return f
}

func structOf(name string, fields ...FieldDef) FieldDef {
	return FieldDef{Name: name, Type: TypeStruct, Nullable: true, Fields: fields}
}

func arrayOf(name string, elem FieldDef) FieldDef {
	elem.Name = "element"
	return FieldDef{Name: name, Type: TypeArray, Elem: &elem}
}

func typedValue(extra ...FieldDef) FieldDef {
	fields := []FieldDef{dbl("double_value"), dbl("float_value"), long("int_value"), str("string_value")}
	return required(structOf("value", append(fields, extra...)...))
}

func kvEntries(name string) FieldDef {
	return arrayOf(name, required(structOf("", required(str("key")), typedValue())))
}

var canonical = structOf("",
	structOf("app_info", str("app_id"), str("id"), str("install_source"), str("version")),
	structOf("device",
		str("mobile_brand_name"), str("mobile_model_name"), str("manufacturer"),
		long("screen_width"), long("screen_height"), str("carrier"), str("network_type"),
		str("operating_system"), str("operating_system_version"), str("vendor_id"),
		str("advertising_id"), str("system_language"), long("time_zone_offset_seconds"),
		str("user_agent"), str("ua_browser"), str("ua_browser_version"), str("ua_os"),
		str("ua_os_version"), str("ua_device"), str("ua_device_category")),
	structOf("ecommerce",
		long("total_item_quantity"), dbl("purchase_revenue"), dbl("purchase_revenue_in_usd"),
		dbl("refund_value"), dbl("shipping_value"), dbl("tax_value"), str("transaction_id"),
		long("unique_items")),
	long("event_bundle_sequence_id"),
	required(str("event_date")),
	structOf("event_dimensions", str("hostname")),
	required(str("event_id")),
	required(str("event_name")),
	kvEntries("event_params"),
	long("event_previous_timestamp"),
	long("event_server_timestamp_offset"),
	required(long("event_timestamp")),
	dbl("event_value_in_usd"),
	structOf("geo", str("ip"), str("city"), str("continent"), str("country"), str("metro"),
		str("region"), str("sub_continent"), str("locale")),
	required(long("ingest_timestamp")),
	arrayOf("items", required(structOf("",
		str("id"), long("quantity"), dbl("price"), str("currency"), str("creative_name"),
		str("creative_slot"), kvEntries("properties")))),
	str("platform"),
	structOf("privacy_info", str("ads_storage"), str("analytics_storage"), str("uses_transient_token")),
	required(str("project_id")),
	structOf("traffic_source", str("medium"), str("name"), str("source")),
	long("user_first_touch_timestamp"),
	str("user_id"),
	structOf("user_ltv", dbl("revenue"), str("currency")),
	arrayOf("user_properties", required(structOf("",
		required(str("key")), typedValue(long("set_timestamp_micros"))))),
	required(str("user_pseudo_id")),
)

// Canonical returns the canonical top-level fields in column order.
func Canonical() []FieldDef {
	out := make([]FieldDef, len(canonical.Fields))
	copy(out, canonical.Fields)
	return out
}

// Columns returns the canonical top-level column names in order.
func Columns() []string {
	cols := make([]string, len(canonical.Fields))
	for i, f := range canonical.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Lookup returns the definition at a dotted path such as "device" or
// "geo.city".
func Lookup(path ...string) (FieldDef, bool) {
	def := canonical
	for _, name := range path {
		m, ok := def.Field(name)
		if !ok {
			return FieldDef{}, false
		}
		def = m
	}
	return def, true
}

// NewStruct returns a record value for the struct field at path with every
// member present and set to nil.
func NewStruct(path ...string) map[string]any {
	def, ok := Lookup(path...)
	if !ok || def.Type != TypeStruct {
		return nil
	}
	m := make(map[string]any, len(def.Fields))
	for _, f := range def.Fields {
		m[f.Name] = nil
	}
	return m
}

// NewRecord returns a record with every canonical column present: arrays
// empty, everything else nil.
func NewRecord() types.Record {
	rec := make(types.Record, len(canonical.Fields))
	for _, f := range canonical.Fields {
		if f.Type == TypeArray {
			rec[f.Name] = []any{}
			continue
		}
		rec[f.Name] = nil
	}
	return rec
}
