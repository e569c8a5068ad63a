// Package kv encodes free-form JSON attribute bags into typed key/value
// entries.
//
// Each member is classified by the first matching rule:
//
//  1. key "price": decimal number, stored as a double
//  2. key ending in "_id": string, verbatim
//  3. all-digit text: long
//  4. digits, a dot and optional digits: double
//  5. anything else: string, verbatim
//
// The float member of a typed value is never populated.
package kv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/clickstream/etl/pkg/types"
)

// PriceKey is the attribute always stored as a double.
const PriceKey = "price"

var (
	longPattern   = regexp.MustCompile(`^\d+$`)
	doublePattern = regexp.MustCompile(`^\d+\.(\d+)?$`)
)

// Field is one member of a JSON object, in document order.
type Field struct {
	Key string
	Raw json.RawMessage
}

// Fields returns the members of a JSON object in document order, keeping
// duplicate keys. Empty input and JSON null yield no fields.
func Fields(obj []byte) ([]Field, error) {
	obj = bytes.TrimSpace(obj)
	if len(obj) == 0 || bytes.Equal(obj, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("kv: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("kv: expected JSON object, got %v", tok)
	}

	var fields []Field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("kv: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("kv: expected object key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("kv: value of %q: %w", key, err)
		}
		fields = append(fields, Field{Key: key, Raw: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("kv: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("kv: trailing data after object")
	}
	return fields, nil
}

// Text returns the textual form of a JSON value: strings unquoted, numbers
// and booleans as written, objects and arrays as compact JSON. ok is false
// for JSON null.
func Text(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return string(raw), true
		}
		return s, true
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return string(raw), true
		}
		return buf.String(), true
	default:
		return string(raw), true
	}
}

// Encode converts the members of a JSON object into typed entries, in
// document order, skipping excluded keys and null members. Any member that
// fails its rule fails the whole call.
func Encode(obj []byte, excludedKeys []string) ([]types.KVEntry, error) {
	fields, err := Fields(obj)
	if err != nil {
		return nil, err
	}

	entries := make([]types.KVEntry, 0, len(fields))
	for _, f := range fields {
		if contains(excludedKeys, f.Key) {
			continue
		}
		text, ok := Text(f.Raw)
		if !ok {
			continue
		}
		v, err := EncodeValue(f.Key, text)
		if err != nil {
			return nil, err
		}
		entries = append(entries, types.KVEntry{Key: f.Key, Value: v})
	}
	return entries, nil
}

// EncodeValue applies the classification rules to a single member.
func EncodeValue(key, text string) (types.TypedValue, error) {
	switch {
	case key == PriceKey:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return types.TypedValue{}, fmt.Errorf("kv: invalid price %q: %w", text, err)
		}
		return types.TypedValue{DoubleValue: &f}, nil
	case strings.HasSuffix(key, "_id"):
		return types.TypedValue{StringValue: &text}, nil
	case longPattern.MatchString(text):
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return types.TypedValue{}, fmt.Errorf("kv: invalid long %q for %q: %w", text, key, err)
		}
		return types.TypedValue{IntValue: &n}, nil
	case doublePattern.MatchString(text):
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return types.TypedValue{}, fmt.Errorf("kv: invalid double %q for %q: %w", text, key, err)
		}
		return types.TypedValue{DoubleValue: &f}, nil
	default:
		return types.TypedValue{StringValue: &text}, nil
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
