package types

// TypedValue is a tagged union with at most one member populated.
// FloatValue is reserved and never set by the encoder.
type TypedValue struct {
	DoubleValue *float64 `json:"double_value" mapstructure:"double_value" parquet:"double_value,optional"`
	FloatValue  *float32 `json:"float_value" mapstructure:"float_value" parquet:"float_value,optional"`
	IntValue    *int64   `json:"int_value" mapstructure:"int_value" parquet:"int_value,optional"`
	StringValue *string  `json:"string_value" mapstructure:"string_value" parquet:"string_value,optional"`
}

// Populated returns the number of populated members.
func (v TypedValue) Populated() int {
	n := 0
	if v.DoubleValue != nil {
		n++
	}
	if v.FloatValue != nil {
		n++
	}
	if v.IntValue != nil {
		n++
	}
	if v.StringValue != nil {
		n++
	}
	return n
}

// ToMap renders the value in record form.
func (v TypedValue) ToMap() map[string]any {
	m := map[string]any{
		"double_value": nil,
		"float_value":  nil,
		"int_value":    nil,
		"string_value": nil,
	}
	if v.DoubleValue != nil {
		m["double_value"] = *v.DoubleValue
	}
	if v.FloatValue != nil {
		m["float_value"] = float64(*v.FloatValue)
	}
	if v.IntValue != nil {
		m["int_value"] = *v.IntValue
	}
	if v.StringValue != nil {
		m["string_value"] = *v.StringValue
	}
	return m
}

// KVEntry is one encoded attribute bag member.
type KVEntry struct {
	Key   string     `json:"key" mapstructure:"key" parquet:"key"`
	Value TypedValue `json:"value" mapstructure:"value" parquet:"value"`
}

// ToMap renders the entry in record form.
func (e KVEntry) ToMap() map[string]any {
	return map[string]any{"key": e.Key, "value": e.Value.ToMap()}
}

// KVEntriesToRecord renders entries as a record array value.
func KVEntriesToRecord(entries []KVEntry) []any {
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.ToMap()
	}
	return out
}

// UserPropertyValue is a TypedValue plus the time the property was set.
type UserPropertyValue struct {
	DoubleValue        *float64 `json:"double_value" mapstructure:"double_value" parquet:"double_value,optional"`
	FloatValue         *float32 `json:"float_value" mapstructure:"float_value" parquet:"float_value,optional"`
	IntValue           *int64   `json:"int_value" mapstructure:"int_value" parquet:"int_value,optional"`
	StringValue        *string  `json:"string_value" mapstructure:"string_value" parquet:"string_value,optional"`
	SetTimestampMicros *int64   `json:"set_timestamp_micros" mapstructure:"set_timestamp_micros" parquet:"set_timestamp_micros,optional"`
}

// UserProperty is one entry of an event's user property bag.
type UserProperty struct {
	Key   string            `json:"key" mapstructure:"key" parquet:"key"`
	Value UserPropertyValue `json:"value" mapstructure:"value" parquet:"value"`
}

// NewUserProperty combines an encoded entry with its set timestamp.
func NewUserProperty(e KVEntry, setMicros *int64) UserProperty {
	return UserProperty{
		Key: e.Key,
		Value: UserPropertyValue{
			DoubleValue:        e.Value.DoubleValue,
			FloatValue:         e.Value.FloatValue,
			IntValue:           e.Value.IntValue,
			StringValue:        e.Value.StringValue,
			SetTimestampMicros: setMicros,
		},
	}
}

// ToMap renders the property in record form.
func (p UserProperty) ToMap() map[string]any {
	v := TypedValue{
		DoubleValue: p.Value.DoubleValue,
		FloatValue:  p.Value.FloatValue,
		IntValue:    p.Value.IntValue,
		StringValue: p.Value.StringValue,
	}.ToMap()
	v["set_timestamp_micros"] = nil
	if p.Value.SetTimestampMicros != nil {
		v["set_timestamp_micros"] = *p.Value.SetTimestampMicros
	}
	return map[string]any{"key": p.Key, "value": v}
}
