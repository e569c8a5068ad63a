// Package pipeline runs an ordered chain of named stages over a record
// batch. Stage failures drop the record they were raised for; only an
// unresolvable chain or a fatal stage error aborts the run.
package pipeline

import (
	"context"
	"sort"

	"github.com/clickstream/etl/pkg/types"
)

// Stage is one named transformation in the chain.
//
// Apply maps one input record to zero or more output records. Returning
// no records drops the input silently; returning a record-scoped error
// drops it and counts a failure. Apply must not modify rec in place and
// must be safe for concurrent use.
type Stage interface {
	Name() string
	Apply(ctx context.Context, rec types.Record) ([]types.Record, error)
}

// ColumnDeclarer is implemented by stages that declare the column order of
// their output given the column order of their input.
type ColumnDeclarer interface {
	Columns(in []string) []string
}

// RunContext carries the run-wide settings stages read. It is passed by
// value and never modified after the run starts.
type RunContext struct {
	ProjectID          string
	StartMs            int64
	EndMs              int64
	DataFreshnessHours int64

	// GeoDatabase is the MaxMind database path for ip-enrichment
	GeoDatabase string

	// DebugDir receives a JSON lines dump of each stage's output when set
	DebugDir string

	validAppIDs map[string]struct{}
}

// NewRunContext builds a run context with the given app id allow-list.
func NewRunContext(projectID string, validAppIDs []string, startMs, endMs, freshnessHours int64) RunContext {
	ids := make(map[string]struct{}, len(validAppIDs))
	for _, id := range validAppIDs {
		ids[id] = struct{}{}
	}
	return RunContext{
		ProjectID:          projectID,
		StartMs:            startMs,
		EndMs:              endMs,
		DataFreshnessHours: freshnessHours,
		validAppIDs:        ids,
	}
}

// AppIDAllowed reports whether appID is on the allow-list.
func (rc RunContext) AppIDAllowed(appID string) bool {
	_, ok := rc.validAppIDs[appID]
	return ok
}

// ValidAppIDs returns the allow-list in sorted order.
func (rc RunContext) ValidAppIDs() []string {
	out := make([]string, 0, len(rc.validAppIDs))
	for id := range rc.validAppIDs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
