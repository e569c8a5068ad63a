// Package router splits validated events into the output tables and writes
// them partitioned by app id and event date.
//
// Full tables replace every partition they touch. Incremental tables stage
// one file per partition and run under <table>_incremental/ until Merge
// consolidates them.
package router

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"

	etlerrors "github.com/clickstream/etl/internal/errors"
	"github.com/clickstream/etl/internal/manifest"
	"github.com/clickstream/etl/internal/storage"
	"github.com/clickstream/etl/pkg/types"
)

// Options configures the output files.
type Options struct {
	// Format is json or parquet
	Format string
	// Compression is none or snappy
	Compression string
	// OutputPartitions is the number of files per partition; -1 writes one
	OutputPartitions int
	// WorkDir holds encoded files until they are uploaded
	WorkDir string
}

// Ledger records written and removed objects.
type Ledger interface {
	RegisterFile(ctx context.Context, f manifest.FileEntry) error
	MarkMerged(ctx context.Context, objectPaths []string) error
	RemoveFiles(ctx context.Context, objectPaths []string) error
}

// Observer is notified of table writes.
type Observer interface {
	TableWritten(table string, rows, files int, staged bool)
	FilesDeleted(table string, files int)
	TableMerged(table string, rows int)
}

// TableResult is the outcome of routing one table.
type TableResult struct {
	Table       string
	Incremental bool
	Rows        int
	Partitions  []string
	Files       []string
	Deleted     []string
}

// MergeResult is the outcome of merging one incremental table.
type MergeResult struct {
	Table       string
	Partitions  []string
	StagedFiles int
	Rows        int
	Files       []string
}

// Option configures a Router.
type Option func(*Router)

// WithLedger reports every written and removed object to l.
func WithLedger(l Ledger) Option {
	return func(r *Router) { r.ledger = l }
}

// WithObserver reports table writes to o.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// WithTables replaces the default table set.
func WithTables(tables ...Table) Option {
	return func(r *Router) { r.tables = tables }
}

// Router writes output tables below a root location.
type Router struct {
	store    storage.ObjectStorage
	root     storage.Location
	opts     Options
	ext      string
	ids      *types.ULIDGenerator
	ledger   Ledger
	observer Observer
	tables   []Table
	byName   map[string]Table
}

// New creates a router writing to root inside store.
func New(store storage.ObjectStorage, root storage.Location, opts Options, options ...Option) (*Router, error) {
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}
	if opts.Format != FormatJSON && opts.Format != FormatParquet {
		return nil, etlerrors.NewConfigError(etlerrors.CodeInvalidSetting,
			fmt.Sprintf("unsupported output format %q", opts.Format))
	}
	if opts.Compression != CompressionNone && opts.Compression != CompressionSnappy {
		return nil, etlerrors.NewConfigError(etlerrors.CodeInvalidSetting,
			fmt.Sprintf("unsupported compression %q", opts.Compression))
	}
	if opts.WorkDir != "" {
		if err := os.MkdirAll(opts.WorkDir, 0755); err != nil {
			return nil, fmt.Errorf("router: failed to create work dir: %w", err)
		}
	}

	r := &Router{
		store:  store,
		root:   root,
		opts:   opts,
		ext:    extension(opts.Format, opts.Compression),
		ids:    types.NewULIDGenerator(),
		tables: DefaultTables(),
	}
	for _, o := range options {
		o(r)
	}

	r.byName = make(map[string]Table, len(r.tables))
	for _, t := range r.tables {
		r.byName[t.Name()] = t
	}
	return r, nil
}

// Tables returns the table names in write order.
func (r *Router) Tables() []string {
	names := make([]string, len(r.tables))
	for i, t := range r.tables {
		names[i] = t.Name()
	}
	return names
}

// IncrementalTables returns the names of the incremental tables.
func (r *Router) IncrementalTables() []string {
	var names []string
	for _, t := range r.tables {
		if t.Incremental() {
			names = append(names, t.Name())
		}
	}
	return names
}

// Route projects events into every table and writes them. A table with no
// rows writes nothing and reports Rows 0.
func (r *Router) Route(ctx context.Context, events []*types.Event) (map[string]TableResult, error) {
	results := make(map[string]TableResult, len(r.tables))
	for _, t := range r.tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := t.route(ctx, r, events)
		if err != nil {
			return nil, err
		}
		results[t.Name()] = res
		log.Printf("router: %s: %d rows in %d partitions, %d files written, %d removed",
			t.Name(), res.Rows, len(res.Partitions), len(res.Files), len(res.Deleted))
	}
	return results, nil
}

// Merge consolidates the staged files of the named incremental tables.
func (r *Router) Merge(ctx context.Context, tables []string) (map[string]MergeResult, error) {
	results := make(map[string]MergeResult, len(tables))
	names := append([]string(nil), tables...)
	sort.Strings(names)

	for _, name := range names {
		t, ok := r.byName[name]
		if !ok {
			return nil, etlerrors.NewConfigError(etlerrors.CodeInvalidSetting, "unknown output table").
				WithDetails(map[string]interface{}{"table": name})
		}
		if !t.Incremental() {
			return nil, etlerrors.NewConfigError(etlerrors.CodeInvalidSetting, "only incremental tables can be merged").
				WithDetails(map[string]interface{}{"table": name})
		}

		res, err := t.merge(ctx, r)
		if err != nil {
			return nil, err
		}
		results[name] = res
		if res.StagedFiles == 0 {
			log.Printf("router: %s: nothing staged, merge skipped", name)
			continue
		}
		log.Printf("router: %s: merged %d staged files into %d rows across %d partitions",
			name, res.StagedFiles, res.Rows, len(res.Partitions))
	}
	return results, nil
}

func (r *Router) list(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	objects, err := r.store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, etlerrors.NewStorageError(etlerrors.CodeListFailed, "failed to list "+prefix, err)
	}
	return objects, nil
}

func (r *Router) delete(ctx context.Context, objectPaths []string) error {
	for _, p := range objectPaths {
		if err := r.store.Delete(ctx, p); err != nil {
			return etlerrors.NewStorageError(etlerrors.CodeDeleteFailed, "failed to delete "+p, err)
		}
	}
	return nil
}

func (r *Router) register(ctx context.Context, table, partition, objectPath string, rows int, staged bool) error {
	if r.ledger == nil {
		return nil
	}
	return r.ledger.RegisterFile(ctx, manifest.FileEntry{
		ObjectPath: objectPath,
		Table:      table,
		Partition:  partition,
		RowCount:   rows,
		Staged:     staged,
	})
}

func (r *Router) removed(ctx context.Context, objectPaths []string) error {
	if r.ledger == nil || len(objectPaths) == 0 {
		return nil
	}
	return r.ledger.RemoveFiles(ctx, objectPaths)
}

func (r *Router) merged(ctx context.Context, objectPaths []string) error {
	if r.ledger == nil || len(objectPaths) == 0 {
		return nil
	}
	return r.ledger.MarkMerged(ctx, objectPaths)
}

// putRows encodes rows into a work file and uploads it.
func putRows[R any](ctx context.Context, r *Router, objectPath string, rows []R) error {
	local, err := workFile(r.opts.WorkDir)
	if err != nil {
		return err
	}
	defer os.Remove(local)

	if err := writeFile(local, r.ext, rows); err != nil {
		return etlerrors.NewInternalError("failed to encode "+objectPath, err)
	}
	if err := r.store.Upload(ctx, local, objectPath); err != nil {
		return etlerrors.NewStorageError(etlerrors.CodeUploadFailed, "failed to upload "+objectPath, err)
	}
	return nil
}

// getRows downloads and decodes one object.
func getRows[R any](ctx context.Context, r *Router, objectPath string) ([]R, error) {
	local, err := workFile(r.opts.WorkDir)
	if err != nil {
		return nil, err
	}
	defer os.Remove(local)

	if err := r.store.Download(ctx, objectPath, local); err != nil {
		return nil, etlerrors.NewStorageError(etlerrors.CodeDownloadFailed, "failed to download "+objectPath, err)
	}
	return readFile[R](local, objectPath)
}

func workFile(dir string) (string, error) {
	f, err := os.CreateTemp(dir, "router-*")
	if err != nil {
		return "", etlerrors.NewInternalError("failed to create work file", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", etlerrors.NewInternalError("failed to create work file", err)
	}
	return name, nil
}
