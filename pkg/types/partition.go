package types

import (
	"fmt"
	"time"
)

// DayPartition identifies one calendar day of a day-partitioned layout.
type DayPartition struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// DayOf returns the day partition containing t in t's location.
func DayOf(t time.Time) DayPartition {
	y, m, d := t.Date()
	return DayPartition{Year: y, Month: int(m), Day: d}
}

// Date returns midnight of the day in loc.
func (d DayPartition) Date(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, loc)
}

// String formats the day as YYYY-MM-DD.
func (d DayPartition) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Prefix returns the source layout path segment year=YYYY/month=MM/day=DD.
func (d DayPartition) Prefix() string {
	return fmt.Sprintf("year=%04d/month=%02d/day=%02d", d.Year, d.Month, d.Day)
}

// Before reports whether d is an earlier day than o.
func (d DayPartition) Before(o DayPartition) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// PartitionKey routes an output row to its (app_id, day) partition.
type PartitionKey struct {
	AppID string `json:"app_id"`
	DayPartition
}

// Path returns the output layout
// partition_app=<app>/partition_year=YYYY/partition_month=MM/partition_day=DD.
func (k PartitionKey) Path() string {
	return fmt.Sprintf("partition_app=%s/partition_year=%04d/partition_month=%02d/partition_day=%02d",
		k.AppID, k.Year, k.Month, k.Day)
}

// String returns a compact form used for logging and ledger keys.
func (k PartitionKey) String() string {
	return k.AppID + "/" + k.DayPartition.String()
}
