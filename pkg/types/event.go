package types

// Event is a record that passed schema reconciliation.
// Field names match the canonical output columns.
type Event struct {
	AppInfo                    *AppInfo        `json:"app_info" mapstructure:"app_info" parquet:"app_info,optional"`
	Device                     *Device         `json:"device" mapstructure:"device" parquet:"device,optional"`
	Ecommerce                  *Ecommerce      `json:"ecommerce" mapstructure:"ecommerce" parquet:"ecommerce,optional"`
	EventBundleSequenceID      *int64          `json:"event_bundle_sequence_id" mapstructure:"event_bundle_sequence_id" parquet:"event_bundle_sequence_id,optional"`
	EventDate                  string          `json:"event_date" mapstructure:"event_date" parquet:"event_date"`
	EventDimensions            *EventDimension `json:"event_dimensions" mapstructure:"event_dimensions" parquet:"event_dimensions,optional"`
	EventID                    string          `json:"event_id" mapstructure:"event_id" parquet:"event_id"`
	EventName                  string          `json:"event_name" mapstructure:"event_name" parquet:"event_name"`
	EventParams                []KVEntry       `json:"event_params" mapstructure:"event_params" parquet:"event_params,list"`
	EventPreviousTimestamp     *int64          `json:"event_previous_timestamp" mapstructure:"event_previous_timestamp" parquet:"event_previous_timestamp,optional"`
	EventServerTimestampOffset *int64          `json:"event_server_timestamp_offset" mapstructure:"event_server_timestamp_offset" parquet:"event_server_timestamp_offset,optional"`
	EventTimestamp             int64           `json:"event_timestamp" mapstructure:"event_timestamp" parquet:"event_timestamp"`
	EventValueInUSD            *float64        `json:"event_value_in_usd" mapstructure:"event_value_in_usd" parquet:"event_value_in_usd,optional"`
	Geo                        *Geo            `json:"geo" mapstructure:"geo" parquet:"geo,optional"`
	IngestTimestamp            int64           `json:"ingest_timestamp" mapstructure:"ingest_timestamp" parquet:"ingest_timestamp"`
	Items                      []Item          `json:"items" mapstructure:"items" parquet:"items,list"`
	Platform                   *string         `json:"platform" mapstructure:"platform" parquet:"platform,optional"`
	PrivacyInfo                *PrivacyInfo    `json:"privacy_info" mapstructure:"privacy_info" parquet:"privacy_info,optional"`
	ProjectID                  string          `json:"project_id" mapstructure:"project_id" parquet:"project_id"`
	TrafficSource              *TrafficSource  `json:"traffic_source" mapstructure:"traffic_source" parquet:"traffic_source,optional"`
	UserFirstTouchTimestamp    *int64          `json:"user_first_touch_timestamp" mapstructure:"user_first_touch_timestamp" parquet:"user_first_touch_timestamp,optional"`
	UserID                     *string         `json:"user_id" mapstructure:"user_id" parquet:"user_id,optional"`
	UserLTV                    *UserLTV        `json:"user_ltv" mapstructure:"user_ltv" parquet:"user_ltv,optional"`
	UserProperties             []UserProperty  `json:"user_properties" mapstructure:"user_properties" parquet:"user_properties,list"`
	UserPseudoID               string          `json:"user_pseudo_id" mapstructure:"user_pseudo_id" parquet:"user_pseudo_id"`
}

// AppID returns app_info.app_id, or "" when absent.
func (e *Event) AppID() string {
	if e.AppInfo == nil || e.AppInfo.AppID == nil {
		return ""
	}
	return *e.AppInfo.AppID
}

type AppInfo struct {
	AppID         *string `json:"app_id" mapstructure:"app_id" parquet:"app_id,optional"`
	ID            *string `json:"id" mapstructure:"id" parquet:"id,optional"`
	InstallSource *string `json:"install_source" mapstructure:"install_source" parquet:"install_source,optional"`
	Version       *string `json:"version" mapstructure:"version" parquet:"version,optional"`
}

type Device struct {
	MobileBrandName        *string `json:"mobile_brand_name" mapstructure:"mobile_brand_name" parquet:"mobile_brand_name,optional"`
	MobileModelName        *string `json:"mobile_model_name" mapstructure:"mobile_model_name" parquet:"mobile_model_name,optional"`
	Manufacturer           *string `json:"manufacturer" mapstructure:"manufacturer" parquet:"manufacturer,optional"`
	ScreenWidth            *int64  `json:"screen_width" mapstructure:"screen_width" parquet:"screen_width,optional"`
	ScreenHeight           *int64  `json:"screen_height" mapstructure:"screen_height" parquet:"screen_height,optional"`
	Carrier                *string `json:"carrier" mapstructure:"carrier" parquet:"carrier,optional"`
	NetworkType            *string `json:"network_type" mapstructure:"network_type" parquet:"network_type,optional"`
	OperatingSystem        *string `json:"operating_system" mapstructure:"operating_system" parquet:"operating_system,optional"`
	OperatingSystemVersion *string `json:"operating_system_version" mapstructure:"operating_system_version" parquet:"operating_system_version,optional"`
	VendorID               *string `json:"vendor_id" mapstructure:"vendor_id" parquet:"vendor_id,optional"`
	AdvertisingID          *string `json:"advertising_id" mapstructure:"advertising_id" parquet:"advertising_id,optional"`
	SystemLanguage         *string `json:"system_language" mapstructure:"system_language" parquet:"system_language,optional"`
	TimeZoneOffsetSeconds  *int64  `json:"time_zone_offset_seconds" mapstructure:"time_zone_offset_seconds" parquet:"time_zone_offset_seconds,optional"`
	UserAgent              *string `json:"user_agent" mapstructure:"user_agent" parquet:"user_agent,optional"`
	UABrowser              *string `json:"ua_browser" mapstructure:"ua_browser" parquet:"ua_browser,optional"`
	UABrowserVersion       *string `json:"ua_browser_version" mapstructure:"ua_browser_version" parquet:"ua_browser_version,optional"`
	UAOS                   *string `json:"ua_os" mapstructure:"ua_os" parquet:"ua_os,optional"`
	UAOSVersion            *string `json:"ua_os_version" mapstructure:"ua_os_version" parquet:"ua_os_version,optional"`
	UADevice               *string `json:"ua_device" mapstructure:"ua_device" parquet:"ua_device,optional"`
	UADeviceCategory       *string `json:"ua_device_category" mapstructure:"ua_device_category" parquet:"ua_device_category,optional"`
}

type Ecommerce struct {
	TotalItemQuantity  *int64   `json:"total_item_quantity" mapstructure:"total_item_quantity" parquet:"total_item_quantity,optional"`
	PurchaseRevenue    *float64 `json:"purchase_revenue" mapstructure:"purchase_revenue" parquet:"purchase_revenue,optional"`
	PurchaseRevenueUSD *float64 `json:"purchase_revenue_in_usd" mapstructure:"purchase_revenue_in_usd" parquet:"purchase_revenue_in_usd,optional"`
	RefundValue        *float64 `json:"refund_value" mapstructure:"refund_value" parquet:"refund_value,optional"`
	ShippingValue      *float64 `json:"shipping_value" mapstructure:"shipping_value" parquet:"shipping_value,optional"`
	TaxValue           *float64 `json:"tax_value" mapstructure:"tax_value" parquet:"tax_value,optional"`
	TransactionID      *string  `json:"transaction_id" mapstructure:"transaction_id" parquet:"transaction_id,optional"`
	UniqueItems        *int64   `json:"unique_items" mapstructure:"unique_items" parquet:"unique_items,optional"`
}

type EventDimension struct {
	Hostname *string `json:"hostname" mapstructure:"hostname" parquet:"hostname,optional"`
}

type Geo struct {
	IP           *string `json:"ip" mapstructure:"ip" parquet:"ip,optional"`
	City         *string `json:"city" mapstructure:"city" parquet:"city,optional"`
	Continent    *string `json:"continent" mapstructure:"continent" parquet:"continent,optional"`
	Country      *string `json:"country" mapstructure:"country" parquet:"country,optional"`
	Metro        *string `json:"metro" mapstructure:"metro" parquet:"metro,optional"`
	Region       *string `json:"region" mapstructure:"region" parquet:"region,optional"`
	SubContinent *string `json:"sub_continent" mapstructure:"sub_continent" parquet:"sub_continent,optional"`
	Locale       *string `json:"locale" mapstructure:"locale" parquet:"locale,optional"`
}

// Item is one entry of an event's items array.
type Item struct {
	ID           *string   `json:"id" mapstructure:"id" parquet:"id,optional"`
	Quantity     *int64    `json:"quantity" mapstructure:"quantity" parquet:"quantity,optional"`
	Price        *float64  `json:"price" mapstructure:"price" parquet:"price,optional"`
	Currency     *string   `json:"currency" mapstructure:"currency" parquet:"currency,optional"`
	CreativeName *string   `json:"creative_name" mapstructure:"creative_name" parquet:"creative_name,optional"`
	CreativeSlot *string   `json:"creative_slot" mapstructure:"creative_slot" parquet:"creative_slot,optional"`
	Properties   []KVEntry `json:"properties" mapstructure:"properties" parquet:"properties,list"`
}

type PrivacyInfo struct {
	AdsStorage         *string `json:"ads_storage" mapstructure:"ads_storage" parquet:"ads_storage,optional"`
	AnalyticsStorage   *string `json:"analytics_storage" mapstructure:"analytics_storage" parquet:"analytics_storage,optional"`
	UsesTransientToken *string `json:"uses_transient_token" mapstructure:"uses_transient_token" parquet:"uses_transient_token,optional"`
}

type TrafficSource struct {
	Medium *string `json:"medium" mapstructure:"medium" parquet:"medium,optional"`
	Name   *string `json:"name" mapstructure:"name" parquet:"name,optional"`
	Source *string `json:"source" mapstructure:"source" parquet:"source,optional"`
}

// IsEmpty reports whether no traffic source member is set.
func (t *TrafficSource) IsEmpty() bool {
	return t == nil || (t.Medium == nil && t.Name == nil && t.Source == nil)
}

type UserLTV struct {
	Revenue  *float64 `json:"revenue" mapstructure:"revenue" parquet:"revenue,optional"`
	Currency *string  `json:"currency" mapstructure:"currency" parquet:"currency,optional"`
}
