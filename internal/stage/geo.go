package stage

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/oschwald/geoip2-golang"

	etlerrors "github.com/clickstream/etl/internal/errors"
	"github.com/clickstream/etl/internal/pipeline"
	"github.com/clickstream/etl/pkg/types"
)

// IPEnrichmentName is the registry name of the IP geolocation stage.
const IPEnrichmentName = "ip-enrichment"

const geoLanguage = "en"

// CityLookup resolves an IP address to a city record. *geoip2.Reader
// implements it.
type CityLookup interface {
	City(ip net.IP) (*geoip2.City, error)
}

// IPEnrichment resolves geo.ip into the geo columns.
type IPEnrichment struct {
	db     CityLookup
	closer func() error
}

// NewIPEnrichment is the registry factory of the IP geolocation stage. It
// opens the MaxMind database named by the run context.
func NewIPEnrichment(rc pipeline.RunContext) (pipeline.Stage, error) {
	if rc.GeoDatabase == "" {
		return nil, etlerrors.NewConfigError(etlerrors.CodeInvalidSetting,
			"ip-enrichment requires transformation.geo_database")
	}
	db, err := geoip2.Open(rc.GeoDatabase)
	if err != nil {
		return nil, etlerrors.NewConfigError(etlerrors.CodeStageInitFailed,
			fmt.Sprintf("failed to open geo database %s: %v", rc.GeoDatabase, err))
	}
	return &IPEnrichment{db: db, closer: db.Close}, nil
}

// NewIPEnrichmentWithLookup creates the stage over an existing lookup.
func NewIPEnrichmentWithLookup(db CityLookup) *IPEnrichment {
	return &IPEnrichment{db: db}
}

func (s *IPEnrichment) Name() string { return IPEnrichmentName }

// Close releases the database.
func (s *IPEnrichment) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Apply passes records without a resolvable IP through unchanged. A failed
// lookup leaves the geo columns empty rather than dropping the record.
func (s *IPEnrichment) Apply(_ context.Context, rec types.Record) ([]types.Record, error) {
	geo, ok := rec["geo"].(map[string]any)
	if !ok {
		return []types.Record{rec}, nil
	}
	raw, _ := geo["ip"].(string)
	ip := net.ParseIP(raw)
	if ip == nil {
		return []types.Record{rec}, nil
	}

	city, err := s.db.City(ip)
	if err != nil || city == nil {
		return []types.Record{rec}, nil
	}

	enriched := cloneMap(geo)
	enriched["city"] = nonEmpty(city.City.Names[geoLanguage])
	enriched["continent"] = nonEmpty(city.Continent.Names[geoLanguage])
	enriched["country"] = nonEmpty(city.Country.Names[geoLanguage])
	if len(city.Subdivisions) > 0 {
		enriched["region"] = nonEmpty(city.Subdivisions[0].Names[geoLanguage])
	}
	if city.Location.MetroCode != 0 {
		enriched["metro"] = strconv.FormatUint(uint64(city.Location.MetroCode), 10)
	}

	out := rec.Clone()
	out["geo"] = enriched
	return []types.Record{out}, nil
}
