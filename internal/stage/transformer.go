// Package stage holds the built-in pipeline stages.
package stage

import (
	"context"
	"encoding/json"
	"fmt"

	etlerrors "github.com/clickstream/etl/internal/errors"
	"github.com/clickstream/etl/internal/kv"
	"github.com/clickstream/etl/internal/partition"
	"github.com/clickstream/etl/internal/pipeline"
	"github.com/clickstream/etl/internal/schema"
	"github.com/clickstream/etl/pkg/types"
)

// TransformerName is the registry name of the envelope transformer.
const TransformerName = "transformer"

// Attribute and user property keys with dedicated columns.
const (
	AttrTrafficSourceMedium = "_traffic_source_medium"
	AttrTrafficSourceName   = "_traffic_source_name"
	AttrTrafficSourceSource = "_traffic_source_source"
	AttrChannel             = "_channel"
	AttrPageReferer         = "_page_referer"

	UserPropUserID          = "_user_id"
	UserPropFirstTouchStamp = "_user_first_touch_timestamp"
)

var (
	excludedAttributes = []string{AttrTrafficSourceMedium, AttrTrafficSourceName, AttrTrafficSourceSource, AttrChannel}
	itemColumns        = []string{"id", "quantity", "price", "currency", "creative_name", "creative_slot"}
)

// Transformer turns ingestion envelopes into canonical event records. One
// envelope yields one record per event in its data payload.
type Transformer struct {
	rc pipeline.RunContext
}

// NewTransformer is the registry factory of the transformer stage.
func NewTransformer(rc pipeline.RunContext) (pipeline.Stage, error) {
	if rc.ProjectID == "" {
		return nil, etlerrors.NewConfigError(etlerrors.CodeInvalidSetting, "transformer requires a project id")
	}
	return &Transformer{rc: rc}, nil
}

func (t *Transformer) Name() string { return TransformerName }

// Columns declares the canonical column order.
func (t *Transformer) Columns([]string) []string { return schema.Columns() }

// Apply drops corrupt envelopes and envelopes of unknown apps. Events that
// fail to convert are skipped; the envelope fails only when none converts.
func (t *Transformer) Apply(_ context.Context, rec types.Record) ([]types.Record, error) {
	if rec.IsCorrupt() {
		return nil, etlerrors.NewCorruptInputError("corrupt source record")
	}

	env, err := parseEnvelope(rec)
	if err != nil {
		return nil, etlerrors.NewRecordError(etlerrors.CodeParseError, "invalid envelope", err)
	}
	if !t.rc.AppIDAllowed(env.appID) {
		return nil, etlerrors.NewRecordError(etlerrors.CodeInvalidAppID,
			fmt.Sprintf("app id %q is not allowed", env.appID), nil)
	}

	out := make([]types.Record, 0, len(env.events))
	var firstErr error
	for _, raw := range env.events {
		ev, err := t.convert(env, raw)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, ev)
	}
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (t *Transformer) convert(env *envelope, raw json.RawMessage) (types.Record, error) {
	obj, err := parseObject(raw)
	if err != nil {
		return nil, etlerrors.NewRecordError(etlerrors.CodeParseError, "invalid event", err)
	}

	eventName, eventID, pseudoID := obj.str("event_type"), obj.str("event_id"), obj.str("unique_id")
	timestamp, err := obj.long("timestamp")
	if err != nil {
		return nil, etlerrors.NewRecordError(etlerrors.CodeInvalidAttribute, "invalid timestamp", err)
	}
	switch {
	case eventName == nil || *eventName == "":
		return nil, etlerrors.NewRecordError(etlerrors.CodeMissingField, "missing event_type", nil)
	case eventID == nil || *eventID == "":
		return nil, etlerrors.NewRecordError(etlerrors.CodeMissingField, "missing event_id", nil)
	case pseudoID == nil || *pseudoID == "":
		return nil, etlerrors.NewRecordError(etlerrors.CodeMissingField, "missing unique_id", nil)
	case timestamp == nil:
		return nil, etlerrors.NewRecordError(etlerrors.CodeMissingField, "missing timestamp", nil)
	}
	// app_info.app_id is always the allow-listed envelope app.
	if id := obj.str("app_id"); id != nil && *id != "" && *id != env.appID {
		return nil, etlerrors.NewRecordError(etlerrors.CodeInvalidAppID,
			fmt.Sprintf("event app id %q does not match envelope app id %q", *id, env.appID), nil)
	}

	out := schema.NewRecord()
	out["event_id"] = *eventID
	out["event_name"] = *eventName
	out["event_timestamp"] = *timestamp
	out["event_date"] = partition.EventDate(*timestamp)
	out["ingest_timestamp"] = env.ingestTime
	out["project_id"] = t.rc.ProjectID
	out["user_pseudo_id"] = *pseudoID
	out["platform"] = value(obj.str("platform"))
	out["event_bundle_sequence_id"] = value(env.bundleSeqID)
	if env.uploadTime != nil {
		out["event_server_timestamp_offset"] = env.ingestTime - *env.uploadTime
	}

	var attrs *object
	if raw, ok := obj.raw("attributes"); ok {
		if attrs, err = parseObject(raw); err != nil {
			return nil, etlerrors.NewRecordError(etlerrors.CodeParseError, "invalid attributes", err)
		}
		params, err := kv.Encode(raw, excludedAttributes)
		if err != nil {
			return nil, etlerrors.NewRecordError(etlerrors.CodeInvalidAttribute, "invalid attributes", err)
		}
		out["event_params"] = types.KVEntriesToRecord(params)
	} else {
		attrs = &object{index: map[string]int{}}
	}

	out["app_info"] = buildAppInfo(env, obj, attrs)
	if out["device"], err = buildDevice(env, obj); err != nil {
		return nil, etlerrors.NewRecordError(etlerrors.CodeInvalidAttribute, "invalid device attributes", err)
	}
	geo := schema.NewStruct("geo")
	geo["ip"] = nonEmpty(env.ip)
	geo["locale"] = value(obj.str("locale"))
	out["geo"] = geo

	if src := buildTrafficSource(attrs); src != nil {
		out["traffic_source"] = src
	}

	if raw, ok := obj.raw("user"); ok {
		if err := applyUser(out, raw); err != nil {
			return nil, etlerrors.NewRecordError(etlerrors.CodeInvalidAttribute, "invalid user attributes", err)
		}
	}
	if raw, ok := obj.raw("items"); ok {
		items, ecommerce, err := buildItems(raw)
		if err != nil {
			return nil, etlerrors.NewRecordError(etlerrors.CodeInvalidAttribute, "invalid items", err)
		}
		out["items"] = items
		if ecommerce != nil {
			out["ecommerce"] = ecommerce
		}
	}
	return out, nil
}

func buildAppInfo(env *envelope, obj, attrs *object) map[string]any {
	app := schema.NewStruct("app_info")
	app["app_id"] = env.appID
	app["id"] = value(obj.str("app_package_name"))
	app["version"] = value(obj.str("app_version_name"))
	app["install_source"] = value(attrs.str(AttrChannel))
	return app
}

func buildDevice(env *envelope, obj *object) (map[string]any, error) {
	device := schema.NewStruct("device")
	device["vendor_id"] = value(obj.str("device_id"))
	device["operating_system"] = value(obj.str("platform"))
	device["operating_system_version"] = value(obj.str("os_version"))
	device["manufacturer"] = value(obj.str("make"))
	device["mobile_brand_name"] = value(obj.str("brand"))
	device["mobile_model_name"] = value(obj.str("model"))
	device["carrier"] = value(obj.str("carrier"))
	device["network_type"] = value(obj.str("network_type"))
	device["system_language"] = value(obj.str("system_language"))
	device["user_agent"] = nonEmpty(env.ua)

	for _, k := range []string{"screen_width", "screen_height"} {
		n, err := obj.long(k)
		if err != nil {
			return nil, err
		}
		device[k] = value(n)
	}
	offset, err := obj.long("zone_offset")
	if err != nil {
		return nil, err
	}
	if offset != nil {
		device["time_zone_offset_seconds"] = *offset / 1000
	}
	return device, nil
}

func buildTrafficSource(attrs *object) map[string]any {
	medium, name, source := attrs.str(AttrTrafficSourceMedium), attrs.str(AttrTrafficSourceName), attrs.str(AttrTrafficSourceSource)
	if medium == nil && name == nil && source == nil {
		return nil
	}
	ts := schema.NewStruct("traffic_source")
	ts["medium"] = value(medium)
	ts["name"] = value(name)
	ts["source"] = value(source)
	return ts
}

// applyUser fills user_id, user_first_touch_timestamp and user_properties
// from the user bag. Members are either plain values or
// {"value": ..., "set_timestamp": <ms>}.
func applyUser(out types.Record, raw json.RawMessage) error {
	bag, err := parseObject(raw)
	if err != nil {
		return err
	}

	props := make([]any, 0, len(bag.fields))
	for _, f := range bag.fields {
		valueRaw := f.Raw
		var setMicros *int64
		if inner, err := parseObject(f.Raw); err == nil {
			if _, ok := inner.index["value"]; ok {
				valueRaw, _ = inner.raw("value")
				ts, err := inner.long("set_timestamp")
				if err != nil {
					return err
				}
				if ts != nil {
					micros := *ts * 1000
					setMicros = &micros
				}
			}
		}

		text, ok := kv.Text(valueRaw)
		if !ok {
			continue
		}
		v, err := kv.EncodeValue(f.Key, text)
		if err != nil {
			return err
		}
		props = append(props, types.NewUserProperty(types.KVEntry{Key: f.Key, Value: v}, setMicros).ToMap())

		switch f.Key {
		case UserPropUserID:
			out["user_id"] = text
		case UserPropFirstTouchStamp:
			if v.IntValue != nil {
				out["user_first_touch_timestamp"] = *v.IntValue
			}
		}
	}
	out["user_properties"] = props
	return nil
}

// buildItems converts the items array. Members beyond the item columns are
// encoded into the item's properties.
func buildItems(raw json.RawMessage) ([]any, map[string]any, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, nil, err
	}

	items := make([]any, 0, len(elems))
	var quantity int64
	for _, elem := range elems {
		obj, err := parseObject(elem)
		if err != nil {
			return nil, nil, err
		}
		item := map[string]any{
			"id":            value(obj.str("id")),
			"currency":      value(obj.str("currency")),
			"creative_name": value(obj.str("creative_name")),
			"creative_slot": value(obj.str("creative_slot")),
			"price":         nil,
		}
		q, err := obj.long("quantity")
		if err != nil {
			return nil, nil, err
		}
		item["quantity"] = value(q)
		if q != nil {
			quantity += *q
		}
		if p := obj.str(kv.PriceKey); p != nil {
			v, err := kv.EncodeValue(kv.PriceKey, *p)
			if err != nil {
				return nil, nil, err
			}
			item["price"] = *v.DoubleValue
		}
		props, err := kv.Encode(elem, itemColumns)
		if err != nil {
			return nil, nil, err
		}
		item["properties"] = types.KVEntriesToRecord(props)
		items = append(items, item)
	}

	if len(items) == 0 {
		return items, nil, nil
	}
	ecommerce := schema.NewStruct("ecommerce")
	ecommerce["total_item_quantity"] = quantity
	ecommerce["unique_items"] = int64(len(items))
	return items, ecommerce, nil
}

// value unwraps an optional value into a record value.
func value[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
