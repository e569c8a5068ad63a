package router

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	etlerrors "github.com/clickstream/etl/internal/errors"
	"github.com/clickstream/etl/internal/partition"
	"github.com/clickstream/etl/pkg/types"
)

// Table is one output table.
type Table interface {
	Name() string
	Incremental() bool

	route(ctx context.Context, r *Router, events []*types.Event) (TableResult, error)
	merge(ctx context.Context, r *Router) (MergeResult, error)
}

// table is a Table of typed rows R.
type table[R any] struct {
	name        string
	incremental bool
	// latestOnly keeps one row per natural key inside each partition
	latestOnly bool

	project func(*types.Event) []R
	appDate func(R) (appID, eventDate string)
	key     func(R) string
	version func(R) int64
}

func (t *table[R]) Name() string      { return t.name }
func (t *table[R]) Incremental() bool { return t.incremental }

func (t *table[R]) partitionKey(row R) (types.PartitionKey, error) {
	return partition.KeyFor(t.appDate(row))
}

func (t *table[R]) route(ctx context.Context, r *Router, events []*types.Event) (TableResult, error) {
	res := TableResult{Table: t.name, Incremental: t.incremental}

	var rows []R
	for _, e := range events {
		rows = append(rows, t.project(e)...)
	}
	if len(rows) == 0 {
		return res, nil
	}

	groups, err := partition.RouteRows(rows, t.partitionKey)
	if err != nil {
		return res, etlerrors.NewInternalError("failed to partition table "+t.name, err)
	}

	for _, key := range partition.SortedKeys(groups) {
		part := groups[key]
		if t.latestOnly {
			part = t.latest(part)
		}
		res.Rows += len(part)
		res.Partitions = append(res.Partitions, key.Path())

		if t.incremental {
			objectPath, err := t.stage(ctx, r, key.Path(), part)
			if err != nil {
				return res, err
			}
			res.Files = append(res.Files, objectPath)
			continue
		}

		written, deleted, err := t.replace(ctx, r, key.Path(), part)
		if err != nil {
			return res, err
		}
		res.Files = append(res.Files, written...)
		res.Deleted = append(res.Deleted, deleted...)
	}

	if r.observer != nil {
		r.observer.TableWritten(t.name, res.Rows, len(res.Files), t.incremental)
		if len(res.Deleted) > 0 {
			r.observer.FilesDeleted(t.name, len(res.Deleted))
		}
	}
	return res, nil
}

// stage writes rows as a new uniquely named file in the staging area.
func (t *table[R]) stage(ctx context.Context, r *Router, partPath string, rows []R) (string, error) {
	id, err := r.ids.Generate()
	if err != nil {
		return "", etlerrors.NewInternalError("failed to name staging file", err)
	}
	objectPath := r.root.Join(t.name+IncrementalSuffix, partPath, "part-"+id.String()+r.ext)

	t.sort(rows)
	if err := putRows(ctx, r, objectPath, rows); err != nil {
		return "", err
	}
	if err := r.register(ctx, t.name, partPath, objectPath, len(rows), true); err != nil {
		return "", err
	}
	return objectPath, nil
}

// replace writes rows as the complete content of a partition and deletes
// every other object under it.
func (t *table[R]) replace(ctx context.Context, r *Router, partPath string, rows []R) (written, deleted []string, err error) {
	t.sort(rows)

	n := r.opts.OutputPartitions
	if n < 1 {
		n = 1
	}
	buckets := make([][]R, n)
	for _, row := range rows {
		b := partition.Bucket(t.key(row), n)
		buckets[b] = append(buckets[b], row)
	}

	keep := make(map[string]bool, n)
	for i, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		objectPath := r.root.Join(t.name, partPath, fmt.Sprintf("part-%05d%s", i, r.ext))
		if err := putRows(ctx, r, objectPath, bucket); err != nil {
			return nil, nil, err
		}
		if err := r.register(ctx, t.name, partPath, objectPath, len(bucket), false); err != nil {
			return nil, nil, err
		}
		written = append(written, objectPath)
		keep[objectPath] = true
	}

	existing, err := r.list(ctx, r.root.Join(t.name, partPath)+"/")
	if err != nil {
		return nil, nil, err
	}
	for _, obj := range existing {
		if !keep[obj.Path] {
			deleted = append(deleted, obj.Path)
		}
	}
	if err := r.delete(ctx, deleted); err != nil {
		return nil, nil, err
	}
	if err := r.removed(ctx, deleted); err != nil {
		return nil, nil, err
	}
	return written, deleted, nil
}

func (t *table[R]) merge(ctx context.Context, r *Router) (MergeResult, error) {
	res := MergeResult{Table: t.name}

	stagingRoot := r.root.Join(t.name + IncrementalSuffix)
	staged, err := r.list(ctx, stagingRoot+"/")
	if err != nil {
		return res, err
	}

	byPartition := make(map[string][]string)
	for _, obj := range staged {
		if !isDataFile(obj.Path) {
			continue
		}
		rel := strings.TrimPrefix(obj.Path, stagingRoot+"/")
		part := path.Dir(rel)
		byPartition[part] = append(byPartition[part], obj.Path)
	}
	if len(byPartition) == 0 {
		return res, nil
	}

	parts := make([]string, 0, len(byPartition))
	for p := range byPartition {
		parts = append(parts, p)
	}
	sort.Strings(parts)

	for _, part := range parts {
		// Staging names sort in write order, so later files win ties.
		files := byPartition[part]
		sort.Strings(files)

		current, err := r.list(ctx, r.root.Join(t.name, part)+"/")
		if err != nil {
			return res, err
		}
		var rows []R
		for _, obj := range current {
			if !isDataFile(obj.Path) {
				continue
			}
			prior, err := getRows[R](ctx, r, obj.Path)
			if err != nil {
				return res, etlerrors.NewMergeError(etlerrors.CodeStagedReadFailed, "failed to read merged file "+obj.Path, err)
			}
			rows = append(rows, prior...)
		}
		for _, p := range files {
			increment, err := getRows[R](ctx, r, p)
			if err != nil {
				return res, etlerrors.NewMergeError(etlerrors.CodeStagedReadFailed, "failed to read staged file "+p, err)
			}
			rows = append(rows, increment...)
		}

		rows = t.latest(rows)
		written, _, err := t.replace(ctx, r, part, rows)
		if err != nil {
			return res, err
		}
		if err := r.delete(ctx, files); err != nil {
			return res, err
		}
		if err := r.merged(ctx, files); err != nil {
			return res, err
		}

		res.Partitions = append(res.Partitions, part)
		res.StagedFiles += len(files)
		res.Rows += len(rows)
		res.Files = append(res.Files, written...)
	}

	if r.observer != nil {
		r.observer.TableMerged(t.name, res.Rows)
	}
	return res, nil
}

// latest keeps one row per natural key, the one with the highest version.
// Later rows win ties.
func (t *table[R]) latest(rows []R) []R {
	index := make(map[string]int, len(rows))
	out := make([]R, 0, len(rows))
	for _, row := range rows {
		k := t.key(row)
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, row)
			continue
		}
		if t.version(row) >= t.version(out[i]) {
			out[i] = row
		}
	}
	return out
}

func (t *table[R]) sort(rows []R) {
	sort.SliceStable(rows, func(i, j int) bool {
		ki, kj := t.key(rows[i]), t.key(rows[j])
		if ki != kj {
			return ki < kj
		}
		return t.version(rows[i]) < t.version(rows[j])
	})
}
