package stage

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/oschwald/geoip2-golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clickstream/etl/internal/schema"
	"github.com/clickstream/etl/pkg/types"
)

func recordWithDevice(ua string) types.Record {
	rec := schema.NewRecord()
	device := schema.NewStruct("device")
	device["user_agent"] = ua
	rec["device"] = device
	return rec
}

func TestUAEnrichment(t *testing.T) {
	tests := []struct {
		name     string
		ua       string
		browser  string
		os       string
		category string
	}{
		{
			name:     "android phone",
			ua:       "Mozilla/5.0 (Linux; Android 10; SM-G975F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/83.0.4103.106 Mobile Safari/537.36",
			browser:  "Chrome",
			os:       "Android",
			category: DeviceCategoryMobile,
		},
		{
			name:     "desktop",
			ua:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/90.0.4430.93 Safari/537.36",
			browser:  "Chrome",
			os:       "Windows",
			category: DeviceCategoryPC,
		},
		{
			name:     "crawler",
			ua:       "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			category: DeviceCategoryBot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := recordWithDevice(tt.ua)
			out, err := UAEnrichment{}.Apply(context.Background(), in)
			require.NoError(t, err)
			require.Len(t, out, 1)

			device := out[0]["device"].(map[string]any)
			assert.Equal(t, tt.category, device["ua_device_category"])
			if tt.browser != "" {
				assert.Equal(t, tt.browser, device["ua_browser"])
			}
			if tt.os != "" {
				assert.Contains(t, device["ua_os"], tt.os)
			}
			assert.Nil(t, in["device"].(map[string]any)["ua_browser"], "input must not be modified")

			_, err = schema.NewReconciler().Validate(completeRecord(out[0]))
			assert.NoError(t, err)
		})
	}
}

func TestUAEnrichment_PassThrough(t *testing.T) {
	rec := schema.NewRecord()
	out, err := UAEnrichment{}.Apply(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out[0]["device"])
}

type fakeLookup struct {
	city *geoip2.City
	err  error
	ips  []string
}

func (f *fakeLookup) City(ip net.IP) (*geoip2.City, error) {
	f.ips = append(f.ips, ip.String())
	return f.city, f.err
}

func recordWithIP(ip string) types.Record {
	rec := schema.NewRecord()
	geo := schema.NewStruct("geo")
	geo["ip"] = ip
	geo["locale"] = "en_US"
	rec["geo"] = geo
	return rec
}

func TestIPEnrichment(t *testing.T) {
	city := &geoip2.City{}
	city.City.Names = map[string]string{"en": "Seattle"}
	city.Country.Names = map[string]string{"en": "United States"}
	city.Continent.Names = map[string]string{"en": "North America"}
	city.Location.MetroCode = 819

	lookup := &fakeLookup{city: city}
	stage := NewIPEnrichmentWithLookup(lookup)

	out, err := stage.Apply(context.Background(), recordWithIP("203.0.113.7"))
	require.NoError(t, err)
	require.Len(t, out, 1)

	geo := out[0]["geo"].(map[string]any)
	assert.Equal(t, "Seattle", geo["city"])
	assert.Equal(t, "United States", geo["country"])
	assert.Equal(t, "North America", geo["continent"])
	assert.Equal(t, "819", geo["metro"])
	assert.Equal(t, "en_US", geo["locale"])
	assert.Nil(t, geo["region"])
	assert.Equal(t, []string{"203.0.113.7"}, lookup.ips)

	_, err = schema.NewReconciler().Validate(completeRecord(out[0]))
	assert.NoError(t, err)
}

func TestIPEnrichment_LookupFailureKeepsRecord(t *testing.T) {
	stage := NewIPEnrichmentWithLookup(&fakeLookup{err: errors.New("not found")})
	for _, ip := range []string{"203.0.113.7", "not-an-ip"} {
		in := recordWithIP(ip)
		out, err := stage.Apply(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Nil(t, out[0]["geo"].(map[string]any)["city"])
	}
	assert.NoError(t, stage.Close())
}

// completeRecord fills the required columns of a canonical record.
func completeRecord(rec types.Record) types.Record {
	rec = rec.Clone()
	rec["event_date"] = "2023-04-24"
	rec["event_id"] = "e"
	rec["event_name"] = "n"
	rec["event_timestamp"] = int64(1)
	rec["ingest_timestamp"] = int64(1)
	rec["project_id"] = "p"
	rec["user_pseudo_id"] = "u"
	return rec
}
