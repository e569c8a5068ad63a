package stage

import (
	"context"
	"strings"

	"github.com/mssola/useragent"

	"github.com/clickstream/etl/internal/pipeline"
	"github.com/clickstream/etl/pkg/types"
)

// UAEnrichmentName is the registry name of the user agent stage.
const UAEnrichmentName = "ua-enrichment"

// Device categories written to device.ua_device_category.
const (
	DeviceCategoryBot    = "Bot"
	DeviceCategoryMobile = "Mobile"
	DeviceCategoryTablet = "Tablet"
	DeviceCategoryPC     = "PC"
)

// UAEnrichment parses device.user_agent into the device.ua_* columns.
type UAEnrichment struct{}

// NewUAEnrichment is the registry factory of the user agent stage.
func NewUAEnrichment(pipeline.RunContext) (pipeline.Stage, error) {
	return UAEnrichment{}, nil
}

func (UAEnrichment) Name() string { return UAEnrichmentName }

// Apply passes records without a user agent through unchanged.
func (UAEnrichment) Apply(_ context.Context, rec types.Record) ([]types.Record, error) {
	device, ok := rec["device"].(map[string]any)
	if !ok {
		return []types.Record{rec}, nil
	}
	raw, ok := device["user_agent"].(string)
	if !ok || raw == "" {
		return []types.Record{rec}, nil
	}

	ua := useragent.New(raw)
	enriched := cloneMap(device)

	browser, version := ua.Browser()
	enriched["ua_browser"] = nonEmpty(browser)
	enriched["ua_browser_version"] = nonEmpty(version)

	os := ua.OSInfo()
	enriched["ua_os"] = nonEmpty(os.Name)
	enriched["ua_os_version"] = nonEmpty(os.Version)
	enriched["ua_device"] = nonEmpty(ua.Platform())
	enriched["ua_device_category"] = deviceCategory(ua)

	out := rec.Clone()
	out["device"] = enriched
	return []types.Record{out}, nil
}

func deviceCategory(ua *useragent.UserAgent) string {
	switch {
	case ua.Bot():
		return DeviceCategoryBot
	case strings.Contains(ua.Platform(), "iPad") || strings.Contains(ua.UA(), "Tablet"):
		return DeviceCategoryTablet
	case ua.Mobile():
		return DeviceCategoryMobile
	default:
		return DeviceCategoryPC
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
