package router

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	etlerrors "github.com/clickstream/etl/internal/errors"
	"github.com/clickstream/etl/internal/manifest"
	"github.com/clickstream/etl/internal/partition"
	"github.com/clickstream/etl/internal/storage"
	"github.com/clickstream/etl/pkg/types"
)

var day = time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC).UnixMilli()

func strPtr(s string) *string { return &s }
func intPtr(n int64) *int64   { return &n }

func stringParam(key, value string) types.KVEntry {
	return types.KVEntry{Key: key, Value: types.TypedValue{StringValue: strPtr(value)}}
}

func testEvent(id, user string, ts int64) *types.Event {
	return &types.Event{
		AppInfo:         &types.AppInfo{AppID: strPtr("app1")},
		EventID:         id,
		EventName:       "page_view",
		EventDate:       partition.EventDate(ts),
		EventTimestamp:  ts,
		IngestTimestamp: ts,
		ProjectID:       "proj",
		UserPseudoID:    user,
		EventParams:     []types.KVEntry{stringParam("page", "/home"), stringParam("title", "Home")},
		Items:           []types.Item{},
	}
}

func withTrafficSource(e *types.Event, medium string) *types.Event {
	e.TrafficSource = &types.TrafficSource{Medium: strPtr(medium), Source: strPtr("google")}
	return e
}

func newTestRouter(t *testing.T, dir string, opts Options, options ...Option) (*Router, storage.ObjectStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	r, err := New(store, storage.Location{Scheme: "file", Prefix: dir}, opts, options...)
	require.NoError(t, err)
	return r, store
}

func listPaths(t *testing.T, store storage.ObjectStorage, prefix string) []string {
	t.Helper()
	objects, err := store.ListObjects(context.Background(), prefix)
	require.NoError(t, err)
	var paths []string
	for _, o := range objects {
		paths = append(paths, o.Path)
	}
	return paths
}

func TestRoute_ZeroRowsWritesNoPath(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRouter(t, t.TempDir(), Options{OutputPartitions: -1})

	events := []*types.Event{
		testEvent("e1", "u1", day),
		testEvent("e2", "u1", day+1000),
		testEvent("e3", "u2", day+2000),
	}
	results, err := r.Route(ctx, events)
	require.NoError(t, err)

	assert.Equal(t, 3, results[TableEvent].Rows)
	assert.Equal(t, 6, results[TableEventParameter].Rows)
	assert.NotEmpty(t, listPaths(t, store, TableEvent+"/"))
	assert.NotEmpty(t, listPaths(t, store, TableEventParameter+"/"))

	assert.Equal(t, 0, results[TableUser].Rows)
	assert.Empty(t, results[TableUser].Files)
	assert.Empty(t, listPaths(t, store, TableUser+"/"))
	assert.Empty(t, listPaths(t, store, TableUserTrafficSource+IncrementalSuffix+"/"))

	want := "event/partition_app=app1/partition_year=2024/partition_month=04/partition_day=01/part-00000.json"
	assert.Equal(t, []string{want}, results[TableEvent].Files)
}

func TestRoute_RerunReplacesPartition(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var events []*types.Event
	for i := 0; i < 40; i++ {
		events = append(events, testEvent("e"+strings.Repeat("x", i), "u1", day+int64(i)))
	}

	wide, store := newTestRouter(t, dir, Options{OutputPartitions: 4})
	first, err := wide.Route(ctx, events)
	require.NoError(t, err)
	require.Greater(t, len(first[TableEvent].Files), 1)

	again, err := wide.Route(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, first[TableEvent].Files, again[TableEvent].Files)
	assert.Empty(t, again[TableEvent].Deleted)

	narrow, _ := newTestRouter(t, dir, Options{OutputPartitions: -1})
	last, err := narrow.Route(ctx, events)
	require.NoError(t, err)
	assert.NotEmpty(t, last[TableEvent].Deleted)

	paths := listPaths(t, store, TableEvent+"/")
	require.Len(t, paths, 1)
	rows, err := getRows[EventRow](ctx, narrow, paths[0])
	require.NoError(t, err)
	assert.Len(t, rows, 40)
	assert.True(t, sort.SliceIsSorted(rows, func(i, j int) bool { return rows[i].EventID < rows[j].EventID }))
}

// fullTableSnapshot decodes every file of the full tables, keyed by object path.
func fullTableSnapshot(t *testing.T, r *Router, store storage.ObjectStorage) map[string]any {
	t.Helper()
	ctx := context.Background()
	read := func(objectPath string) (any, error) {
		switch strings.SplitN(objectPath, "/", 2)[0] {
		case TableEvent:
			return getRows[EventRow](ctx, r, objectPath)
		case TableEventParameter:
			return getRows[EventParameterRow](ctx, r, objectPath)
		case TableUser:
			return getRows[UserRow](ctx, r, objectPath)
		default:
			return getRows[ItemRow](ctx, r, objectPath)
		}
	}
	snap := make(map[string]any)
	for _, table := range []string{TableEvent, TableEventParameter, TableUser, TableItem} {
		paths := listPaths(t, store, table+"/")
		require.NotEmpty(t, paths, table)
		for _, p := range paths {
			rows, err := read(p)
			require.NoError(t, err)
			snap[p] = rows
		}
	}
	return snap
}

func fileBytes(t *testing.T, dir string, paths []string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p)))
		require.NoError(t, err)
		out[p] = b
	}
	return out
}

func TestRoute_RerunIsIdempotent(t *testing.T) {
	cases := []struct{ format, compression string }{
		{FormatJSON, CompressionNone},
		{FormatJSON, CompressionSnappy},
		{FormatParquet, CompressionNone},
		{FormatParquet, CompressionSnappy},
	}
	for _, tc := range cases {
		t.Run(tc.format+"/"+tc.compression, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			r, store := newTestRouter(t, dir, Options{Format: tc.format, Compression: tc.compression, OutputPartitions: 3})

			var events []*types.Event
			for i := 0; i < 12; i++ {
				e := testEvent(fmt.Sprintf("e%02d", i), fmt.Sprintf("u%d", i%3), day+int64(i)*1000)
				e.UserProperties = []types.UserProperty{{Key: "level", Value: types.UserPropertyValue{IntValue: intPtr(int64(i))}}}
				e.Items = []types.Item{{ID: strPtr(fmt.Sprintf("sku%d", i%4)), Quantity: intPtr(int64(i))}}
				events = append(events, e)
			}

			_, err := r.Route(ctx, events)
			require.NoError(t, err)
			first := fullTableSnapshot(t, r, store)
			var paths []string
			for p := range first {
				paths = append(paths, p)
			}
			firstBytes := fileBytes(t, dir, paths)

			again, err := r.Route(ctx, events)
			require.NoError(t, err)
			for _, table := range []string{TableEvent, TableEventParameter, TableUser, TableItem} {
				assert.Empty(t, again[table].Deleted, table)
			}
			second := fullTableSnapshot(t, r, store)
			assert.Equal(t, first, second)
			if tc.format == FormatJSON {
				assert.Equal(t, firstBytes, fileBytes(t, dir, paths))
			}

			var users int
			for p, rows := range second {
				if strings.HasPrefix(p, TableUser+"/") {
					users += len(rows.([]UserRow))
				}
			}
			assert.Equal(t, 3, users)
		})
	}
}

func TestRoute_RejectsPathLikeAppID(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	out := filepath.Join(base, "out")
	r, _ := newTestRouter(t, out, Options{})

	e := testEvent("e1", "u1", day)
	e.AppInfo.AppID = strPtr("x/../../../escaped")
	_, err := r.Route(ctx, []*types.Event{e})
	require.Error(t, err)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out", entries[0].Name())
}

func TestRoute_UserAndItemKeepLatest(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter(t, t.TempDir(), Options{})

	older := testEvent("e1", "u1", day)
	older.UserProperties = []types.UserProperty{{Key: "plan", Value: types.UserPropertyValue{StringValue: strPtr("free")}}}
	older.Items = []types.Item{{ID: strPtr("sku1"), Quantity: intPtr(1)}}
	newer := testEvent("e2", "u1", day+5000)
	newer.UserProperties = []types.UserProperty{{Key: "plan", Value: types.UserPropertyValue{StringValue: strPtr("pro")}}}
	newer.Items = []types.Item{{ID: strPtr("sku1"), Quantity: intPtr(3)}, {Quantity: intPtr(9)}}

	results, err := r.Route(ctx, []*types.Event{newer, older})
	require.NoError(t, err)
	require.Equal(t, 1, results[TableUser].Rows)
	require.Equal(t, 1, results[TableItem].Rows)

	users, err := getRows[UserRow](ctx, r, results[TableUser].Files[0])
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "pro", *users[0].UserProperties[0].Value.StringValue)

	items, err := getRows[ItemRow](ctx, r, results[TableItem].Files[0])
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(3), *items[0].Quantity)
}

func TestMerge_KeepsLatestAndRemovesStaging(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRouter(t, t.TempDir(), Options{})

	_, err := r.Route(ctx, []*types.Event{
		withTrafficSource(testEvent("e1", "u1", day), "organic"),
		withTrafficSource(testEvent("e2", "u2", day+10), "cpc"),
	})
	require.NoError(t, err)
	_, err = r.Route(ctx, []*types.Event{
		withTrafficSource(testEvent("e3", "u1", day+2000), "email"),
	})
	require.NoError(t, err)

	staging := TableUserTrafficSource + IncrementalSuffix + "/"
	require.Len(t, listPaths(t, store, staging), 2)

	results, err := r.Merge(ctx, []string{TableUserTrafficSource})
	require.NoError(t, err)
	res := results[TableUserTrafficSource]
	assert.Equal(t, 2, res.StagedFiles)
	assert.Equal(t, 2, res.Rows)
	assert.Empty(t, listPaths(t, store, staging))

	rows, err := getRows[UserTrafficSourceRow](ctx, r, res.Files[0])
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "u1", rows[0].UserPseudoID)
	assert.Equal(t, "email", *rows[0].TrafficSourceMedium)

	// An older increment does not replace the merged state.
	_, err = r.Route(ctx, []*types.Event{
		withTrafficSource(testEvent("e4", "u1", day+1000), "referral"),
	})
	require.NoError(t, err)
	results, err = r.Merge(ctx, []string{TableUserTrafficSource})
	require.NoError(t, err)

	rows, err = getRows[UserTrafficSourceRow](ctx, r, results[TableUserTrafficSource].Files[0])
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "email", *rows[0].TrafficSourceMedium)
}

func TestMerge_NothingStaged(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRouter(t, t.TempDir(), Options{})

	results, err := r.Merge(ctx, r.IncrementalTables())
	require.NoError(t, err)
	for _, name := range r.IncrementalTables() {
		assert.Equal(t, 0, results[name].StagedFiles, name)
		assert.Empty(t, listPaths(t, store, name+"/"), name)
	}
}

func TestMerge_RejectsFullTable(t *testing.T) {
	r, _ := newTestRouter(t, t.TempDir(), Options{})

	_, err := r.Merge(context.Background(), []string{TableEvent})
	require.Error(t, err)
	assert.Equal(t, etlerrors.ErrCategoryConfiguration, etlerrors.GetCategory(err))

	_, err = r.Merge(context.Background(), []string{"sessions"})
	require.Error(t, err)
}

func TestRoute_DeviceAndPageReferer(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter(t, t.TempDir(), Options{})

	e := testEvent("e1", "u1", day)
	e.Device = &types.Device{VendorID: strPtr("vendor-1"), MobileBrandName: strPtr("Pixel")}
	e.EventParams = append(e.EventParams, stringParam(pageRefererKey, "https://example.com/"))
	plain := testEvent("e2", "u2", day)

	results, err := r.Route(ctx, []*types.Event{e, plain})
	require.NoError(t, err)
	assert.Equal(t, 1, results[TableUserDeviceID].Rows)
	assert.Equal(t, 1, results[TableUserPageReferer].Rows)

	refs, err := getRows[UserPageRefererRow](ctx, r, results[TableUserPageReferer].Files[0])
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", refs[0].PageReferer)
}

type fakeLedger struct {
	registered []manifest.FileEntry
	merged     []string
	removed    []string
}

func (l *fakeLedger) RegisterFile(_ context.Context, f manifest.FileEntry) error {
	l.registered = append(l.registered, f)
	return nil
}

func (l *fakeLedger) MarkMerged(_ context.Context, paths []string) error {
	l.merged = append(l.merged, paths...)
	return nil
}

func (l *fakeLedger) RemoveFiles(_ context.Context, paths []string) error {
	l.removed = append(l.removed, paths...)
	return nil
}

type fakeObserver struct {
	rows   map[string]int
	merged map[string]int
}

func (o *fakeObserver) TableWritten(table string, rows, files int, staged bool) {
	o.rows[table] += rows
}

func (o *fakeObserver) FilesDeleted(string, int) {}

func (o *fakeObserver) TableMerged(table string, rows int) {
	o.merged[table] += rows
}

func TestRouter_ReportsToLedgerAndObserver(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{}
	obs := &fakeObserver{rows: map[string]int{}, merged: map[string]int{}}
	r, _ := newTestRouter(t, t.TempDir(), Options{}, WithLedger(ledger), WithObserver(obs))

	_, err := r.Route(ctx, []*types.Event{withTrafficSource(testEvent("e1", "u1", day), "organic")})
	require.NoError(t, err)
	_, err = r.Merge(ctx, []string{TableUserTrafficSource})
	require.NoError(t, err)

	var staged int
	for _, f := range ledger.registered {
		if f.Staged {
			staged++
			assert.Equal(t, TableUserTrafficSource, f.Table)
		}
	}
	assert.Equal(t, 1, staged)
	assert.Len(t, ledger.merged, 1)
	assert.Equal(t, 1, obs.rows[TableEvent])
	assert.Equal(t, 1, obs.merged[TableUserTrafficSource])
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = New(store, storage.Location{Scheme: "file"}, Options{Format: "avro"})
	assert.Equal(t, etlerrors.ErrCategoryConfiguration, etlerrors.GetCategory(err))
	_, err = New(store, storage.Location{Scheme: "file"}, Options{Compression: "zstd"})
	assert.Equal(t, etlerrors.ErrCategoryConfiguration, etlerrors.GetCategory(err))
}
