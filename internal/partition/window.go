// Package partition plans which source day-partitions a run must read and
// routes output rows to their (app_id, day) partitions.
package partition

import (
	"fmt"
	"time"

	etlerrors "github.com/clickstream/etl/internal/errors"
	"github.com/clickstream/etl/pkg/types"
)

const msPerHour = int64(time.Hour / time.Millisecond)

// Calendar describes how the source is partitioned.
type Calendar struct {
	// Location is the time zone of the partition dates (default UTC)
	Location *time.Location

	// Partitioned is false for a flat source without year/month/day paths
	Partitioned bool
}

// Window is the partition selection for one run plus the residual
// [StartMs, EndMs) filter applied after reading.
type Window struct {
	StartMs int64
	EndMs   int64

	// Partitions lists every selected day in ascending order.
	// It is nil when SelectAll is set.
	Partitions []types.DayPartition

	// SelectAll means the source carries no partition information and
	// only the residual filter applies.
	SelectAll bool

	index map[types.DayPartition]struct{}
}

// Plan builds the window for [startMs, endMs) widened by freshnessHours
// before startMs. Every concrete date from the widened start through the
// last in-range millisecond is selected, so the start date is always
// present, also when startMs == endMs.
func Plan(startMs, endMs, freshnessHours int64, cal Calendar) (*Window, error) {
	switch {
	case startMs < 0 || endMs < 0:
		return nil, etlerrors.NewConfigError(etlerrors.CodeInvalidWindow,
			fmt.Sprintf("window bounds must be >= 0, got [%d, %d)", startMs, endMs))
	case startMs > endMs:
		return nil, etlerrors.NewConfigError(etlerrors.CodeInvalidWindow,
			fmt.Sprintf("window start %d is after end %d", startMs, endMs))
	case freshnessHours < 0:
		return nil, etlerrors.NewConfigError(etlerrors.CodeInvalidWindow,
			fmt.Sprintf("freshness must be >= 0 hours, got %d", freshnessHours))
	}

	w := &Window{StartMs: startMs, EndMs: endMs}
	if !cal.Partitioned {
		w.SelectAll = true
		return w, nil
	}

	loc := cal.Location
	if loc == nil {
		loc = time.UTC
	}

	last := startMs
	if endMs-1 > last {
		last = endMs - 1
	}
	from := types.DayOf(time.UnixMilli(startMs - freshnessHours*msPerHour).In(loc))
	to := types.DayOf(time.UnixMilli(last).In(loc))

	w.index = make(map[types.DayPartition]struct{})
	for d := from.Date(loc); ; d = d.AddDate(0, 0, 1) {
		day := types.DayOf(d)
		w.Partitions = append(w.Partitions, day)
		w.index[day] = struct{}{}
		if !day.Before(to) {
			break
		}
	}
	return w, nil
}

// Includes reports whether the day partition is selected.
func (w *Window) Includes(day types.DayPartition) bool {
	if w.SelectAll {
		return true
	}
	_, ok := w.index[day]
	return ok
}

// Matches is the residual filter: startMs <= ingestMs < endMs.
func (w *Window) Matches(ingestMs int64) bool {
	return ingestMs >= w.StartMs && ingestMs < w.EndMs
}

// Prefixes returns the source path prefixes of the selected partitions.
// It returns nil for a select-all window.
func (w *Window) Prefixes() []string {
	if w.SelectAll {
		return nil
	}
	out := make([]string, len(w.Partitions))
	for i, p := range w.Partitions {
		out[i] = p.Prefix()
	}
	return out
}

// String describes the window for logs.
func (w *Window) String() string {
	if w.SelectAll {
		return fmt.Sprintf("[%d, %d) all partitions", w.StartMs, w.EndMs)
	}
	return fmt.Sprintf("[%d, %d) %s..%s (%d partitions)", w.StartMs, w.EndMs,
		w.Partitions[0], w.Partitions[len(w.Partitions)-1], len(w.Partitions))
}
