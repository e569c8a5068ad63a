// Package source reads newline-delimited JSON envelopes from a
// day-partitioned (year=/month=/day=) or flat object layout.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	etlerrors "github.com/clickstream/etl/internal/errors"
	"github.com/clickstream/etl/internal/kv"
	"github.com/clickstream/etl/internal/partition"
	"github.com/clickstream/etl/internal/storage"
	"github.com/clickstream/etl/pkg/types"
)

// IngestTimeField is the envelope field the residual window filter reads.
const IngestTimeField = "ingest_time"

var dayPattern = regexp.MustCompile(`(?:^|/)year=(\d{4})/month=(\d{1,2})/day=(\d{1,2})(?:/|$)`)

// maxLineSize bounds a single JSON line. Longer lines become corrupt
// records holding their first corruptTextLimit bytes.
const (
	maxLineSize      = 16 * 1024 * 1024
	corruptTextLimit = 4 * 1024
)

// Options configures a Reader.
type Options struct {
	// Root is the object prefix holding the source files
	Root string

	// WorkDir receives downloaded objects
	WorkDir string

	// Concurrency is the number of parallel downloads
	Concurrency int

	// CheckModifiedTime keeps only objects modified inside the window
	CheckModifiedTime bool
}

// Reader loads source records for a planned window.
type Reader struct {
	store storage.ObjectStorage
	opts  Options
}

// NewReader creates a reader over store.
func NewReader(store storage.ObjectStorage, opts Options) *Reader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Reader{store: store, opts: opts}
}

// DetectCalendar reports the source as partitioned when any object below
// the root carries year=/month=/day= path segments.
func (r *Reader) DetectCalendar(ctx context.Context) (partition.Calendar, error) {
	objects, err := r.list(ctx)
	if err != nil {
		return partition.Calendar{}, err
	}
	for _, obj := range objects {
		if _, ok := DayFromPath(obj.Path); ok {
			return partition.Calendar{Location: time.UTC, Partitioned: true}, nil
		}
	}
	return partition.Calendar{Location: time.UTC}, nil
}

// Select returns the objects a window reads, sorted by path.
func (r *Reader) Select(ctx context.Context, w *partition.Window) ([]storage.ObjectInfo, error) {
	objects, err := r.list(ctx)
	if err != nil {
		return nil, err
	}

	var selected []storage.ObjectInfo
	for _, obj := range objects {
		if !w.SelectAll {
			day, ok := DayFromPath(obj.Path)
			if !ok || !w.Includes(day) {
				continue
			}
		}
		if r.opts.CheckModifiedTime && !w.Matches(obj.ModTime.UnixMilli()) {
			continue
		}
		selected = append(selected, obj)
	}
	return selected, nil
}

// Read downloads the selected objects and decodes their lines into records.
// Lines that are not JSON objects become corrupt-record sentinels; other
// records outside [StartMs, EndMs) by ingest_time are filtered out.
func (r *Reader) Read(ctx context.Context, w *partition.Window) (*types.Dataset, error) {
	selected, err := r.Select(ctx, w)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(selected))
	for i, obj := range selected {
		paths[i] = obj.Path
	}

	downloader := storage.NewBatchDownloader(r.store, r.opts.Concurrency, r.opts.WorkDir)
	result, err := downloader.Download(ctx, paths)
	if err != nil {
		return nil, etlerrors.NewStorageError(etlerrors.CodeDownloadFailed, "source download cancelled", err)
	}
	for _, p := range paths {
		if err := result.Errors[p]; err != nil {
			return nil, etlerrors.NewStorageError(etlerrors.CodeDownloadFailed,
				fmt.Sprintf("failed to download source object %s", p), err)
		}
	}

	ds := &types.Dataset{}
	seen := make(map[string]struct{})
	var corrupt, filtered int
	for _, p := range paths {
		day, partitioned := DayFromPath(p)
		err := decodeFile(result.LocalPaths[p], func(rec types.Record) {
			if rec.IsCorrupt() {
				corrupt++
			} else {
				ingest, ok := rec.Int64(IngestTimeField)
				if !ok || !w.Matches(ingest) {
					filtered++
					return
				}
				if partitioned {
					addPartitionFields(rec, day)
				}
			}
			for k := range rec {
				if _, ok := seen[k]; !ok {
					seen[k] = struct{}{}
					ds.Columns = append(ds.Columns, k)
				}
			}
			ds.Records = append(ds.Records, rec)
		})
		if err != nil {
			return nil, etlerrors.NewStorageError(etlerrors.CodeDownloadFailed,
				fmt.Sprintf("failed to read source object %s", p), err)
		}
	}
	sort.Strings(ds.Columns)

	log.Printf("source: read %d records from %d objects (%d corrupt, %d outside window %s)",
		ds.Len(), len(paths), corrupt, filtered, w)
	return ds, nil
}

func (r *Reader) list(ctx context.Context) ([]storage.ObjectInfo, error) {
	objects, err := r.store.ListObjects(ctx, r.opts.Root)
	if err != nil {
		return nil, etlerrors.NewStorageError(etlerrors.CodeListFailed,
			fmt.Sprintf("failed to list source %q", r.opts.Root), err)
	}
	if len(objects) == 0 {
		return nil, etlerrors.NewConfigError(etlerrors.CodeMissingSource,
			fmt.Sprintf("source %q holds no objects", r.opts.Root))
	}

	out := objects[:0]
	for _, obj := range objects {
		base := obj.Path[strings.LastIndex(obj.Path, "/")+1:]
		if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_") {
			continue
		}
		out = append(out, obj)
	}
	return out, nil
}

// DayFromPath extracts the day partition of an object path.
func DayFromPath(p string) (types.DayPartition, bool) {
	m := dayPattern.FindStringSubmatch(p)
	if m == nil {
		return types.DayPartition{}, false
	}
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(m[3])
	if mo < 1 || mo > 12 || d < 1 || d > 31 {
		return types.DayPartition{}, false
	}
	return types.DayPartition{Year: y, Month: mo, Day: d}, true
}

func addPartitionFields(rec types.Record, day types.DayPartition) {
	if _, ok := rec["year"]; !ok {
		rec["year"] = json.Number(strconv.Itoa(day.Year))
	}
	if _, ok := rec["month"]; !ok {
		rec["month"] = json.Number(strconv.Itoa(day.Month))
	}
	if _, ok := rec["day"]; !ok {
		rec["day"] = json.Number(strconv.Itoa(day.Day))
	}
}

func decodeFile(localPath string, emit func(types.Record)) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var in io.Reader = f
	if strings.HasSuffix(localPath, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("invalid gzip stream: %w", err)
		}
		defer gz.Close()
		in = gz
	}
	return DecodeLines(in, emit)
}

// DecodeLines decodes newline-delimited JSON. Blank lines are skipped and
// lines longer than maxLineSize are emitted as truncated corrupt records.
func DecodeLines(in io.Reader, emit func(types.Record)) error {
	br := bufio.NewReaderSize(in, 64*1024)
	var line []byte
	oversized := false
	for {
		chunk, err := br.ReadSlice('\n')
		switch {
		case oversized:
		case len(line)+len(chunk) > maxLineSize:
			oversized = true
			line = append(line, chunk[:min(len(chunk), max(0, corruptTextLimit-len(line)))]...)
		default:
			line = append(line, chunk...)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil && err != io.EOF {
			return err
		}

		if oversized {
			text := line[:min(len(line), corruptTextLimit)]
			emit(types.Record{types.CorruptRecordField: string(text)})
		} else if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			emit(ParseRecord(trimmed))
		}
		if err == io.EOF {
			return nil
		}
		line, oversized = line[:0], false
	}
}

// ParseRecord converts one JSON line into a record. Nested documents stay
// raw so their member order survives. A line that is not a JSON object
// yields a record holding only the corrupt-record field.
func ParseRecord(line []byte) types.Record {
	corrupt := types.Record{types.CorruptRecordField: string(line)}

	fields, err := kv.Fields(line)
	if err != nil || (fields == nil && !bytes.Equal(bytes.TrimSpace(line), []byte("{}"))) {
		return corrupt
	}

	rec := make(types.Record, len(fields))
	for _, f := range fields {
		raw := bytes.TrimSpace(f.Raw)
		switch raw[0] {
		case '{', '[':
			rec[f.Key] = json.RawMessage(raw)
		default:
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			var v any
			if err := dec.Decode(&v); err != nil {
				return corrupt
			}
			rec[f.Key] = v
		}
	}
	return rec
}
