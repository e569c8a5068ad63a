package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	etlerrors "github.com/clickstream/etl/internal/errors"
	"github.com/clickstream/etl/internal/partition"
	"github.com/clickstream/etl/internal/storage"
	"github.com/clickstream/etl/pkg/types"
)

func ms(s string) int64 {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UnixMilli()
}

func writeObject(t *testing.T, root, objectPath string, lines []string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(objectPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	data := []byte(strings.Join(lines, "\n") + "\n")

	if strings.HasSuffix(p, ".gz") {
		f, err := os.Create(p)
		require.NoError(t, err)
		gz := gzip.NewWriter(f)
		_, err = gz.Write(data)
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		require.NoError(t, f.Close())
		return
	}
	require.NoError(t, os.WriteFile(p, data, 0644))
}

func envelope(id string, ingest int64) string {
	return fmt.Sprintf(`{"appId":"uba-app","id":%q,"ingest_time":%d,"data":{"b":1,"a":2}}`, id, ingest)
}

// newMonthBoundarySource lays out records every 6 hours from Mar 30 to Apr 3.
func newMonthBoundarySource(t *testing.T) (storage.ObjectStorage, map[string]int64) {
	root := t.TempDir()
	ingest := make(map[string]int64)
	start := time.Date(2023, 3, 30, 0, 0, 0, 0, time.UTC)
	for day := 0; day < 5; day++ {
		d := start.AddDate(0, 0, day)
		var lines []string
		for h := 0; h < 24; h += 6 {
			ts := d.Add(time.Duration(h) * time.Hour).UnixMilli()
			id := fmt.Sprintf("%s-%02d", d.Format("0102"), h)
			ingest[id] = ts
			lines = append(lines, envelope(id, ts))
		}
		name := "part-0.json"
		if day%2 == 0 {
			name = "part-0.json.gz"
		}
		writeObject(t, root, types.DayOf(d).Prefix()+"/"+name, lines)
	}
	store, err := storage.NewLocalStorage(root)
	require.NoError(t, err)
	return store, ingest
}

func TestDetectCalendar(t *testing.T) {
	store, _ := newMonthBoundarySource(t)
	cal, err := NewReader(store, Options{WorkDir: t.TempDir()}).DetectCalendar(context.Background())
	require.NoError(t, err)
	assert.True(t, cal.Partitioned)

	flat := t.TempDir()
	writeObject(t, flat, "events.json", []string{envelope("a", 1)})
	flatStore, err := storage.NewLocalStorage(flat)
	require.NoError(t, err)
	cal, err = NewReader(flatStore, Options{WorkDir: t.TempDir()}).DetectCalendar(context.Background())
	require.NoError(t, err)
	assert.False(t, cal.Partitioned)
}

func TestRead_WindowAcrossMonthBoundary(t *testing.T) {
	store, ingest := newMonthBoundarySource(t)
	ctx := context.Background()
	reader := NewReader(store, Options{WorkDir: t.TempDir(), Concurrency: 2})

	windows := [][2]string{
		{"2023-03-31T12:00:00Z", "2023-04-01T12:00:00Z"},
		{"2023-03-30T00:00:00Z", "2023-04-04T00:00:00Z"},
		{"2023-04-01T00:00:00Z", "2023-04-01T00:00:00Z"},
		{"2023-04-01T05:00:00Z", "2023-04-01T06:00:01Z"},
	}
	for _, win := range windows {
		startMs, endMs := ms(win[0]), ms(win[1])
		w, err := partition.Plan(startMs, endMs, 0, partition.Calendar{Partitioned: true})
		require.NoError(t, err)

		ds, err := reader.Read(ctx, w)
		require.NoError(t, err)

		got := make(map[string]bool)
		for _, rec := range ds.Records {
			id, _ := rec.String("id")
			got[id] = true
		}
		for id, ts := range ingest {
			want := ts >= startMs && ts < endMs
			assert.Equal(t, want, got[id], "window %v record %s", win, id)
		}
	}
}

func TestRead_CorruptLinesAndPartitionFields(t *testing.T) {
	root := t.TempDir()
	ingest := ms("2023-04-24T10:00:00Z")
	writeObject(t, root, "year=2023/month=04/day=24/a.json", []string{
		envelope("ok", ingest),
		`{"appId": "uba-app", "broken`,
		`[1,2,3]`,
		``,
		envelope("late", ms("2023-04-25T10:00:00Z")),
	})
	writeObject(t, root, "year=2023/month=04/day=24/_SUCCESS", []string{"x"})
	store, err := storage.NewLocalStorage(root)
	require.NoError(t, err)

	w, err := partition.Plan(ms("2023-04-24T00:00:00Z"), ms("2023-04-25T00:00:00Z"), 0,
		partition.Calendar{Partitioned: true})
	require.NoError(t, err)

	ds, err := NewReader(store, Options{WorkDir: t.TempDir()}).Read(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, ds.Records, 3)

	ok := ds.Records[0]
	assert.False(t, ok.IsCorrupt())
	assert.Equal(t, json.Number("2023"), ok["year"])
	assert.Equal(t, json.Number("4"), ok["month"])
	data, isRaw := ok["data"].(json.RawMessage)
	require.True(t, isRaw)
	assert.Equal(t, `{"b":1,"a":2}`, string(data))

	assert.True(t, ds.Records[1].IsCorrupt())
	assert.True(t, ds.Records[2].IsCorrupt())
	assert.Len(t, ds.Records[2], 1)
	assert.Contains(t, ds.Columns, types.CorruptRecordField)
}

func TestRead_CheckModifiedTime(t *testing.T) {
	root := t.TempDir()
	ingest := ms("2023-04-24T10:00:00Z")
	writeObject(t, root, "year=2023/month=04/day=24/a.json", []string{envelope("a", ingest)})
	old := time.Date(2023, 4, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(root, "year=2023/month=04/day=24/a.json"), old, old))
	store, err := storage.NewLocalStorage(root)
	require.NoError(t, err)

	w, err := partition.Plan(ms("2023-04-24T00:00:00Z"), ms("2023-04-25T00:00:00Z"), 0,
		partition.Calendar{Partitioned: true})
	require.NoError(t, err)

	ds, err := NewReader(store, Options{WorkDir: t.TempDir()}).Read(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())

	ds, err = NewReader(store, Options{WorkDir: t.TempDir(), CheckModifiedTime: true}).Read(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Len())
}

func TestRead_MissingSource(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	w, err := partition.Plan(0, 1, 0, partition.Calendar{})
	require.NoError(t, err)

	_, err = NewReader(store, Options{Root: "nothing", WorkDir: t.TempDir()}).Read(context.Background(), w)
	require.Error(t, err)
	assert.Equal(t, etlerrors.ErrCategoryConfiguration, etlerrors.GetCategory(err))
	assert.True(t, etlerrors.IsFatal(err))
}

func TestDayFromPath(t *testing.T) {
	day, ok := DayFromPath("ods/year=2023/month=04/day=24/hour=03/part.gz")
	require.True(t, ok)
	assert.Equal(t, types.DayPartition{Year: 2023, Month: 4, Day: 24}, day)

	_, ok = DayFromPath("ods/events.json")
	assert.False(t, ok)
	_, ok = DayFromPath("year=2023/month=13/day=01/a.json")
	assert.False(t, ok)
}

func TestDecodeLines_OversizedLineBecomesCorrupt(t *testing.T) {
	huge := "{" + strings.Repeat("x", maxLineSize+1024)
	in := strings.NewReader("{\"ingest_time\":1}\n" + huge + "\n\n{\"ingest_time\":2}")

	var records []types.Record
	err := DecodeLines(in, func(r types.Record) { records = append(records, r) })
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, json.Number("1"), records[0]["ingest_time"])
	assert.True(t, records[1].IsCorrupt())
	text, _ := records[1][types.CorruptRecordField].(string)
	assert.Len(t, text, corruptTextLimit)
	assert.True(t, strings.HasPrefix(text, "{xxx"))
	assert.Equal(t, json.Number("2"), records[2]["ingest_time"])
}

func TestDecodeLines_LongLineUnderLimit(t *testing.T) {
	value := strings.Repeat("v", 200*1024)
	in := strings.NewReader(`{"k":"` + value + "\"}\r\n")

	var records []types.Record
	require.NoError(t, DecodeLines(in, func(r types.Record) { records = append(records, r) }))
	require.Len(t, records, 1)
	assert.Equal(t, value, records[0]["k"])
}
