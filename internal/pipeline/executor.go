package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	etlerrors "github.com/clickstream/etl/internal/errors"
	"github.com/clickstream/etl/pkg/types"
)

// chunkSize is the number of records one worker processes per task.
const chunkSize = 256

// StageStats summarizes one stage of an execution.
type StageStats struct {
	Stage    string
	In       int
	Out      int
	Failed   int
	Dropped  int
	Duration time.Duration
}

// Observer receives per-stage statistics.
type Observer interface {
	StageCompleted(stats StageStats)
}

// Result is the outcome of one execution.
type Result struct {
	Dataset *types.Dataset
	Stages  []StageStats
}

// Executor runs stage chains resolved from a registry.
type Executor struct {
	registry *Registry
	rc       RunContext
	workers  int
	observer Observer
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers bounds the number of records processed in parallel.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithObserver sets the receiver of per-stage statistics.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// NewExecutor creates an executor for one run.
func NewExecutor(registry *Registry, rc RunContext, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		rc:       rc,
		workers:  runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute resolves names and runs the stages in order; the output of stage
// i is the only input of stage i+1. Every stage is resolved before any
// record is touched, so an unknown name aborts without output. Record
// order is preserved. An empty result is valid.
func (e *Executor) Execute(ctx context.Context, in *types.Dataset, names []string) (*Result, error) {
	stages, err := e.registry.Resolve(names, e.rc)
	if err != nil {
		return nil, err
	}
	defer CloseStages(stages)
	return e.Run(ctx, in, stages)
}

// Run executes an already resolved chain. The caller owns the stages and
// closes them with CloseStages.
func (e *Executor) Run(ctx context.Context, in *types.Dataset, stages []Stage) (*Result, error) {
	if in == nil {
		in = &types.Dataset{}
	}

	result := &Result{Stages: make([]StageStats, 0, len(stages))}
	current := in
	for i, stage := range stages {
		start := time.Now()
		next, stats, err := e.runStage(ctx, stage, current)
		if err != nil {
			return nil, err
		}
		stats.Duration = time.Since(start)
		result.Stages = append(result.Stages, stats)

		log.Printf("pipeline: stage %d/%d %s: in=%d out=%d failed=%d dropped=%d (%v)",
			i+1, len(stages), stage.Name(), stats.In, stats.Out, stats.Failed, stats.Dropped, stats.Duration)
		if e.observer != nil {
			e.observer.StageCompleted(stats)
		}
		if e.rc.DebugDir != "" {
			if err := dumpDataset(e.rc.DebugDir, i, stage.Name(), next); err != nil {
				log.Printf("pipeline: debug dump of %s failed: %v", stage.Name(), err)
			}
		}
		current = next
	}

	result.Dataset = current
	return result, nil
}

func (e *Executor) runStage(ctx context.Context, stage Stage, in *types.Dataset) (*types.Dataset, StageStats, error) {
	stats := StageStats{Stage: stage.Name(), In: in.Len()}

	outputs := make([][]types.Record, len(in.Records))
	var failed, dropped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for lo := 0; lo < len(in.Records); lo += chunkSize {
		lo, hi := lo, min(lo+chunkSize, len(in.Records))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				out, err := applyRecord(gctx, stage, in.Records[i])
				if err != nil {
					if etlerrors.IsFatal(err) {
						return fmt.Errorf("stage %s: %w", stage.Name(), err)
					}
					failed.Add(1)
					continue
				}
				if len(out) == 0 {
					dropped.Add(1)
					continue
				}
				outputs[i] = out
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	next := &types.Dataset{}
	for _, out := range outputs {
		next.Records = append(next.Records, out...)
	}
	if decl, ok := stage.(ColumnDeclarer); ok {
		next.Columns = decl.Columns(in.Columns)
	} else {
		next.Columns = inferColumns(in.Columns, next.Records)
	}

	stats.Out = next.Len()
	stats.Failed = int(failed.Load())
	stats.Dropped = int(dropped.Load())
	return next, stats, nil
}

// applyRecord runs one record through a stage. A panic fails only that
// record.
func applyRecord(ctx context.Context, stage Stage, rec types.Record) (out []types.Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = etlerrors.NewRecordError(etlerrors.CodeStagePanic,
				fmt.Sprintf("stage %s panicked: %v", stage.Name(), p), nil)
		}
	}()
	return stage.Apply(ctx, rec)
}

// CloseStages releases stages holding resources, such as databases.
func CloseStages(stages []Stage) {
	for _, s := range stages {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Printf("pipeline: failed to close stage %s: %v", s.Name(), err)
			}
		}
	}
}

// inferColumns keeps the input columns still present in the output, then
// appends new columns in sorted order.
func inferColumns(in []string, records []types.Record) []string {
	present := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			present[k] = struct{}{}
		}
	}

	cols := make([]string, 0, len(present))
	for _, c := range in {
		if _, ok := present[c]; ok {
			cols = append(cols, c)
			delete(present, c)
		}
	}
	added := make([]string, 0, len(present))
	for c := range present {
		added = append(added, c)
	}
	sort.Strings(added)
	return append(cols, added...)
}
