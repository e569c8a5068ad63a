package partition

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/clickstream/etl/pkg/types"
)

// EventDateLayout is the format of the event_date column.
const EventDateLayout = "2006-01-02"

// EventDate formats a Unix millisecond timestamp as an event_date in UTC.
func EventDate(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(EventDateLayout)
}

// KeyFor computes the output partition of a row from its app id and
// event_date.
func KeyFor(appID, eventDate string) (types.PartitionKey, error) {
	if appID == "" {
		return types.PartitionKey{}, fmt.Errorf("routing: app_id must not be empty")
	}
	if strings.ContainsAny(appID, `/\`) || strings.Contains(appID, "..") {
		return types.PartitionKey{}, fmt.Errorf("routing: app_id %q is not a valid path segment", appID)
	}
	t, err := time.Parse(EventDateLayout, eventDate)
	if err != nil {
		return types.PartitionKey{}, fmt.Errorf("routing: invalid event_date %q: %w", eventDate, err)
	}
	return types.PartitionKey{AppID: appID, DayPartition: types.DayOf(t)}, nil
}

// RouteRows groups rows by their computed partition key. Rows keep their
// relative order inside each group.
func RouteRows[R any](rows []R, keyOf func(R) (types.PartitionKey, error)) (map[types.PartitionKey][]R, error) {
	groups := make(map[types.PartitionKey][]R)
	for _, row := range rows {
		key, err := keyOf(row)
		if err != nil {
			return nil, fmt.Errorf("routing: failed to route row: %w", err)
		}
		groups[key] = append(groups[key], row)
	}
	return groups, nil
}

// SortedKeys returns the partition keys of groups in path order.
func SortedKeys[R any](groups map[types.PartitionKey][]R) []types.PartitionKey {
	keys := make([]types.PartitionKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Path() < keys[j].Path()
	})
	return keys
}

// Bucket spreads natural keys over n files with murmur3. n <= 1 puts
// everything in bucket 0.
func Bucket(naturalKey string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(murmur3.Sum32([]byte(naturalKey)) % uint32(n))
}
