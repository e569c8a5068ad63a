package router

import (
	"github.com/clickstream/etl/pkg/types"
)

// Output table names.
const (
	TableEvent             = "event"
	TableEventParameter    = "event_parameter"
	TableUser              = "user"
	TableItem              = "item"
	TableUserTrafficSource = "user_traffic_source"
	TableUserDeviceID      = "user_device_id"
	TableUserPageReferer   = "user_page_referer"
)

// IncrementalSuffix names the staging area of an incremental table.
const IncrementalSuffix = "_incremental"

const pageRefererKey = "_page_referer"

// EventRow is one row of the event table: the canonical event without its
// attribute bags, which have their own tables.
type EventRow struct {
	EventID                    string                `json:"event_id" parquet:"event_id"`
	EventDate                  string                `json:"event_date" parquet:"event_date"`
	EventTimestamp             int64                 `json:"event_timestamp" parquet:"event_timestamp"`
	EventName                  string                `json:"event_name" parquet:"event_name"`
	EventPreviousTimestamp     *int64                `json:"event_previous_timestamp" parquet:"event_previous_timestamp,optional"`
	EventValueInUSD            *float64              `json:"event_value_in_usd" parquet:"event_value_in_usd,optional"`
	EventBundleSequenceID      *int64                `json:"event_bundle_sequence_id" parquet:"event_bundle_sequence_id,optional"`
	EventServerTimestampOffset *int64                `json:"event_server_timestamp_offset" parquet:"event_server_timestamp_offset,optional"`
	IngestTimestamp            int64                 `json:"ingest_timestamp" parquet:"ingest_timestamp"`
	Platform                   *string               `json:"platform" parquet:"platform,optional"`
	ProjectID                  string                `json:"project_id" parquet:"project_id"`
	UserID                     *string               `json:"user_id" parquet:"user_id,optional"`
	UserPseudoID               string                `json:"user_pseudo_id" parquet:"user_pseudo_id"`
	UserFirstTouchTimestamp    *int64                `json:"user_first_touch_timestamp" parquet:"user_first_touch_timestamp,optional"`
	AppInfo                    *types.AppInfo        `json:"app_info" parquet:"app_info,optional"`
	Device                     *types.Device         `json:"device" parquet:"device,optional"`
	Ecommerce                  *types.Ecommerce      `json:"ecommerce" parquet:"ecommerce,optional"`
	EventDimensions            *types.EventDimension `json:"event_dimensions" parquet:"event_dimensions,optional"`
	Geo                        *types.Geo            `json:"geo" parquet:"geo,optional"`
	Items                      []types.Item          `json:"items" parquet:"items,list"`
	PrivacyInfo                *types.PrivacyInfo    `json:"privacy_info" parquet:"privacy_info,optional"`
	TrafficSource              *types.TrafficSource  `json:"traffic_source" parquet:"traffic_source,optional"`
	UserLTV                    *types.UserLTV        `json:"user_ltv" parquet:"user_ltv,optional"`
}

// EventParameterRow is one entry of an event's parameter bag.
type EventParameterRow struct {
	AppID                 string   `json:"app_id" parquet:"app_id"`
	EventDate             string   `json:"event_date" parquet:"event_date"`
	EventID               string   `json:"event_id" parquet:"event_id"`
	EventName             string   `json:"event_name" parquet:"event_name"`
	EventTimestamp        int64    `json:"event_timestamp" parquet:"event_timestamp"`
	UserPseudoID          string   `json:"user_pseudo_id" parquet:"user_pseudo_id"`
	EventParamKey         string   `json:"event_param_key" parquet:"event_param_key"`
	EventParamDoubleValue *float64 `json:"event_param_double_value" parquet:"event_param_double_value,optional"`
	EventParamFloatValue  *float32 `json:"event_param_float_value" parquet:"event_param_float_value,optional"`
	EventParamIntValue    *int64   `json:"event_param_int_value" parquet:"event_param_int_value,optional"`
	EventParamStringValue *string  `json:"event_param_string_value" parquet:"event_param_string_value,optional"`
}

// UserRow is the latest property bag of a user within a partition.
type UserRow struct {
	AppID                   string               `json:"app_id" parquet:"app_id"`
	EventDate               string               `json:"event_date" parquet:"event_date"`
	EventTimestamp          int64                `json:"event_timestamp" parquet:"event_timestamp"`
	UserPseudoID            string               `json:"user_pseudo_id" parquet:"user_pseudo_id"`
	UserID                  *string              `json:"user_id" parquet:"user_id,optional"`
	UserFirstTouchTimestamp *int64               `json:"user_first_touch_timestamp" parquet:"user_first_touch_timestamp,optional"`
	UserProperties          []types.UserProperty `json:"user_properties" parquet:"user_properties,list"`
	UserLTV                 *types.UserLTV       `json:"user_ltv" parquet:"user_ltv,optional"`
}

// ItemRow is the latest version of an item within a partition.
type ItemRow struct {
	AppID          string          `json:"app_id" parquet:"app_id"`
	EventDate      string          `json:"event_date" parquet:"event_date"`
	EventTimestamp int64           `json:"event_timestamp" parquet:"event_timestamp"`
	EventID        string          `json:"event_id" parquet:"event_id"`
	ID             string          `json:"id" parquet:"id"`
	Quantity       *int64          `json:"quantity" parquet:"quantity,optional"`
	Price          *float64        `json:"price" parquet:"price,optional"`
	Currency       *string         `json:"currency" parquet:"currency,optional"`
	CreativeName   *string         `json:"creative_name" parquet:"creative_name,optional"`
	CreativeSlot   *string         `json:"creative_slot" parquet:"creative_slot,optional"`
	Properties     []types.KVEntry `json:"properties" parquet:"properties,list"`
}

// UserTrafficSourceRow records where a user came from.
type UserTrafficSourceRow struct {
	AppID               string  `json:"app_id" parquet:"app_id"`
	EventDate           string  `json:"event_date" parquet:"event_date"`
	EventTimestamp      int64   `json:"event_timestamp" parquet:"event_timestamp"`
	UserPseudoID        string  `json:"user_pseudo_id" parquet:"user_pseudo_id"`
	TrafficSourceMedium *string `json:"traffic_source_medium" parquet:"traffic_source_medium,optional"`
	TrafficSourceName   *string `json:"traffic_source_name" parquet:"traffic_source_name,optional"`
	TrafficSourceSource *string `json:"traffic_source_source" parquet:"traffic_source_source,optional"`
}

// UserDeviceIDRow links a user to one of their device vendor ids.
type UserDeviceIDRow struct {
	AppID           string  `json:"app_id" parquet:"app_id"`
	EventDate       string  `json:"event_date" parquet:"event_date"`
	EventTimestamp  int64   `json:"event_timestamp" parquet:"event_timestamp"`
	UserPseudoID    string  `json:"user_pseudo_id" parquet:"user_pseudo_id"`
	DeviceID        string  `json:"device_id" parquet:"device_id"`
	AdvertisingID   *string `json:"advertising_id" parquet:"advertising_id,optional"`
	MobileBrandName *string `json:"mobile_brand_name" parquet:"mobile_brand_name,optional"`
	MobileModelName *string `json:"mobile_model_name" parquet:"mobile_model_name,optional"`
	OperatingSystem *string `json:"operating_system" parquet:"operating_system,optional"`
}

// UserPageRefererRow records the last page referer seen for a user.
type UserPageRefererRow struct {
	AppID          string `json:"app_id" parquet:"app_id"`
	EventDate      string `json:"event_date" parquet:"event_date"`
	EventTimestamp int64  `json:"event_timestamp" parquet:"event_timestamp"`
	UserPseudoID   string `json:"user_pseudo_id" parquet:"user_pseudo_id"`
	PageReferer    string `json:"page_referer" parquet:"page_referer"`
}

// DefaultTables returns the output tables in write order.
func DefaultTables() []Table {
	return []Table{
		&table[EventRow]{
			name:    TableEvent,
			project: projectEvent,
			appDate: func(r EventRow) (string, string) { return appIDOf(r.AppInfo), r.EventDate },
			key:     func(r EventRow) string { return r.EventID },
			version: func(r EventRow) int64 { return r.EventTimestamp },
		},
		&table[EventParameterRow]{
			name:    TableEventParameter,
			project: projectEventParameters,
			appDate: func(r EventParameterRow) (string, string) { return r.AppID, r.EventDate },
			key:     func(r EventParameterRow) string { return r.EventID + "\x00" + r.EventParamKey },
			version: func(r EventParameterRow) int64 { return r.EventTimestamp },
		},
		&table[UserRow]{
			name:       TableUser,
			latestOnly: true,
			project:    projectUser,
			appDate:    func(r UserRow) (string, string) { return r.AppID, r.EventDate },
			key:        func(r UserRow) string { return r.UserPseudoID },
			version:    func(r UserRow) int64 { return r.EventTimestamp },
		},
		&table[ItemRow]{
			name:       TableItem,
			latestOnly: true,
			project:    projectItems,
			appDate:    func(r ItemRow) (string, string) { return r.AppID, r.EventDate },
			key:        func(r ItemRow) string { return r.ID },
			version:    func(r ItemRow) int64 { return r.EventTimestamp },
		},
		&table[UserTrafficSourceRow]{
			name:        TableUserTrafficSource,
			incremental: true,
			project:     projectTrafficSource,
			appDate:     func(r UserTrafficSourceRow) (string, string) { return r.AppID, r.EventDate },
			key:         func(r UserTrafficSourceRow) string { return r.UserPseudoID },
			version:     func(r UserTrafficSourceRow) int64 { return r.EventTimestamp },
		},
		&table[UserDeviceIDRow]{
			name:        TableUserDeviceID,
			incremental: true,
			project:     projectDeviceID,
			appDate:     func(r UserDeviceIDRow) (string, string) { return r.AppID, r.EventDate },
			key:         func(r UserDeviceIDRow) string { return r.UserPseudoID + "\x00" + r.DeviceID },
			version:     func(r UserDeviceIDRow) int64 { return r.EventTimestamp },
		},
		&table[UserPageRefererRow]{
			name:        TableUserPageReferer,
			incremental: true,
			project:     projectPageReferer,
			appDate:     func(r UserPageRefererRow) (string, string) { return r.AppID, r.EventDate },
			key:         func(r UserPageRefererRow) string { return r.UserPseudoID },
			version:     func(r UserPageRefererRow) int64 { return r.EventTimestamp },
		},
	}
}

func appIDOf(a *types.AppInfo) string {
	if a == nil || a.AppID == nil {
		return ""
	}
	return *a.AppID
}

func projectEvent(e *types.Event) []EventRow {
	return []EventRow{{
		EventID:                    e.EventID,
		EventDate:                  e.EventDate,
		EventTimestamp:             e.EventTimestamp,
		EventName:                  e.EventName,
		EventPreviousTimestamp:     e.EventPreviousTimestamp,
		EventValueInUSD:            e.EventValueInUSD,
		EventBundleSequenceID:      e.EventBundleSequenceID,
		EventServerTimestampOffset: e.EventServerTimestampOffset,
		IngestTimestamp:            e.IngestTimestamp,
		Platform:                   e.Platform,
		ProjectID:                  e.ProjectID,
		UserID:                     e.UserID,
		UserPseudoID:               e.UserPseudoID,
		UserFirstTouchTimestamp:    e.UserFirstTouchTimestamp,
		AppInfo:                    e.AppInfo,
		Device:                     e.Device,
		Ecommerce:                  e.Ecommerce,
		EventDimensions:            e.EventDimensions,
		Geo:                        e.Geo,
		Items:                      e.Items,
		PrivacyInfo:                e.PrivacyInfo,
		TrafficSource:              e.TrafficSource,
		UserLTV:                    e.UserLTV,
	}}
}

func projectEventParameters(e *types.Event) []EventParameterRow {
	if len(e.EventParams) == 0 {
		return nil
	}
	rows := make([]EventParameterRow, 0, len(e.EventParams))
	for _, p := range e.EventParams {
		rows = append(rows, EventParameterRow{
			AppID:                 e.AppID(),
			EventDate:             e.EventDate,
			EventID:               e.EventID,
			EventName:             e.EventName,
			EventTimestamp:        e.EventTimestamp,
			UserPseudoID:          e.UserPseudoID,
			EventParamKey:         p.Key,
			EventParamDoubleValue: p.Value.DoubleValue,
			EventParamFloatValue:  p.Value.FloatValue,
			EventParamIntValue:    p.Value.IntValue,
			EventParamStringValue: p.Value.StringValue,
		})
	}
	return rows
}

func projectUser(e *types.Event) []UserRow {
	if len(e.UserProperties) == 0 {
		return nil
	}
	return []UserRow{{
		AppID:                   e.AppID(),
		EventDate:               e.EventDate,
		EventTimestamp:          e.EventTimestamp,
		UserPseudoID:            e.UserPseudoID,
		UserID:                  e.UserID,
		UserFirstTouchTimestamp: e.UserFirstTouchTimestamp,
		UserProperties:          e.UserProperties,
		UserLTV:                 e.UserLTV,
	}}
}

func projectItems(e *types.Event) []ItemRow {
	var rows []ItemRow
	for _, it := range e.Items {
		if it.ID == nil || *it.ID == "" {
			continue
		}
		rows = append(rows, ItemRow{
			AppID:          e.AppID(),
			EventDate:      e.EventDate,
			EventTimestamp: e.EventTimestamp,
			EventID:        e.EventID,
			ID:             *it.ID,
			Quantity:       it.Quantity,
			Price:          it.Price,
			Currency:       it.Currency,
			CreativeName:   it.CreativeName,
			CreativeSlot:   it.CreativeSlot,
			Properties:     it.Properties,
		})
	}
	return rows
}

func projectTrafficSource(e *types.Event) []UserTrafficSourceRow {
	if e.TrafficSource.IsEmpty() {
		return nil
	}
	return []UserTrafficSourceRow{{
		AppID:               e.AppID(),
		EventDate:           e.EventDate,
		EventTimestamp:      e.EventTimestamp,
		UserPseudoID:        e.UserPseudoID,
		TrafficSourceMedium: e.TrafficSource.Medium,
		TrafficSourceName:   e.TrafficSource.Name,
		TrafficSourceSource: e.TrafficSource.Source,
	}}
}

func projectDeviceID(e *types.Event) []UserDeviceIDRow {
	if e.Device == nil || e.Device.VendorID == nil || *e.Device.VendorID == "" {
		return nil
	}
	d := e.Device
	return []UserDeviceIDRow{{
		AppID:           e.AppID(),
		EventDate:       e.EventDate,
		EventTimestamp:  e.EventTimestamp,
		UserPseudoID:    e.UserPseudoID,
		DeviceID:        *d.VendorID,
		AdvertisingID:   d.AdvertisingID,
		MobileBrandName: d.MobileBrandName,
		MobileModelName: d.MobileModelName,
		OperatingSystem: d.OperatingSystem,
	}}
}

func projectPageReferer(e *types.Event) []UserPageRefererRow {
	for _, p := range e.EventParams {
		if p.Key != pageRefererKey || p.Value.StringValue == nil || *p.Value.StringValue == "" {
			continue
		}
		return []UserPageRefererRow{{
			AppID:          e.AppID(),
			EventDate:      e.EventDate,
			EventTimestamp: e.EventTimestamp,
			UserPseudoID:   e.UserPseudoID,
			PageReferer:    *p.Value.StringValue,
		}}
	}
	return nil
}
