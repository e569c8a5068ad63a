// Package types provides the core data types shared by the clickstream ETL.
package types

import "encoding/json"

// CorruptRecordField holds the raw text of a source line that could not be
// parsed as a JSON object. A record carrying it has no other fields.
const CorruptRecordField = "_corrupt_record"

// Record is one semi-structured row flowing through the pipeline.
//
// Values read from the source are string, json.Number, bool, nil or
// json.RawMessage (nested documents, kept raw so member order survives).
// Values built by stages are string, int64, float64, nil, map[string]any
// for structs and []any for arrays.
type Record map[string]any

// IsCorrupt reports whether the record is a corrupt-input sentinel.
func (r Record) IsCorrupt() bool {
	_, ok := r[CorruptRecordField]
	return ok
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the string value of a top-level field.
func (r Record) String(field string) (string, bool) {
	switch v := r[field].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// Int64 returns the integral value of a top-level field.
func (r Record) Int64(field string) (int64, bool) {
	switch v := r[field].(type) {
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case float64:
		return int64(v), v == float64(int64(v))
	default:
		return 0, false
	}
}

// Dataset is a batch of records plus its declared column order.
type Dataset struct {
	Columns []string
	Records []Record
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}
