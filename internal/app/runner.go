// Package app wires the ETL stages into a single batch run.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/clickstream/etl/internal/config"
	etlerrors "github.com/clickstream/etl/internal/errors"
	"github.com/clickstream/etl/internal/manifest"
	"github.com/clickstream/etl/internal/observability"
	"github.com/clickstream/etl/internal/partition"
	"github.com/clickstream/etl/internal/pipeline"
	"github.com/clickstream/etl/internal/router"
	"github.com/clickstream/etl/internal/schema"
	"github.com/clickstream/etl/internal/source"
	"github.com/clickstream/etl/internal/stage"
	"github.com/clickstream/etl/internal/storage"
)

// Report summarizes a finished run.
type Report struct {
	RunID         string
	Window        string
	InputRecords  int
	OutputRecords int
	Stages        []pipeline.StageStats
	Tables        map[string]router.TableResult
	Merges        map[string]router.MergeResult
	Duration      time.Duration
}

// Runner executes one ETL run: plan, read, transform, reconcile, route and
// the optional merge of incremental tables.
type Runner struct {
	cfg      *config.Config
	registry *pipeline.Registry
}

// Option configures a Runner.
type Option func(*Runner)

// WithRegistry replaces the built-in stage registry.
func WithRegistry(reg *pipeline.Registry) Option {
	return func(r *Runner) { r.registry = reg }
}

// NewRunner validates cfg and prepares the local directories.
func NewRunner(cfg *config.Config, opts ...Option) (*Runner, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, etlerrors.Wrap(etlerrors.ErrCategoryConfiguration, etlerrors.CodeInvalidSetting,
			"invalid configuration", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	r := &Runner{cfg: cfg}
	for _, o := range opts {
		o(r)
	}
	if r.registry == nil {
		r.registry = stage.NewRegistry()
	}
	return r, nil
}

// Run executes the run. Configuration errors are returned before any
// output is written.
func (r *Runner) Run(ctx context.Context) (report *Report, err error) {
	cfg := r.cfg
	started := time.Now()
	report = &Report{RunID: uuid.NewString()}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, etlerrors.NewInternalError("failed to create metrics", err)
	}
	defer func() {
		report.Duration = time.Since(started)
		metrics.RunFinished(report.Duration, err)
		r.pushMetrics(metrics)
	}()

	workDir := filepath.Join(cfg.IO.WorkDir, report.RunID)
	defer os.RemoveAll(workDir)

	rc := pipeline.NewRunContext(cfg.Transformation.ProjectID, cfg.Transformation.ValidAppIDs,
		cfg.Timestamp.StartMs, cfg.Timestamp.EndMs, cfg.Transformation.DataFreshnessHours)
	rc.GeoDatabase = cfg.Transformation.GeoDatabase
	rc.DebugDir = cfg.IO.DebugDir

	// The whole chain resolves before any storage is touched.
	stages, err := r.registry.Resolve(cfg.Transformation.Transformers, rc)
	if err != nil {
		return report, err
	}
	defer pipeline.CloseStages(stages)

	srcLoc, err := storage.ParseLocation(cfg.IO.Source)
	if err != nil {
		return report, etlerrors.Wrap(etlerrors.ErrCategoryConfiguration, etlerrors.CodeMissingSource, "invalid source location", err)
	}
	outLoc, err := storage.ParseLocation(cfg.IO.Output)
	if err != nil {
		return report, etlerrors.Wrap(etlerrors.ErrCategoryConfiguration, etlerrors.CodeInvalidSetting, "invalid output location", err)
	}

	s3cfg := storage.DefaultS3Config()
	if cfg.Storage.S3.Region != "" {
		s3cfg.Region = cfg.Storage.S3.Region
	}
	s3cfg.Endpoint = cfg.Storage.S3.Endpoint
	s3cfg.UsePathStyle = cfg.Storage.S3.UsePathStyle

	srcStore, err := storage.Open(ctx, srcLoc, s3cfg)
	if err != nil {
		return report, etlerrors.NewStorageError(etlerrors.CodeListFailed, "failed to open source "+srcLoc.String(), err)
	}
	outStore, err := storage.Open(ctx, outLoc, s3cfg)
	if err != nil {
		return report, etlerrors.NewStorageError(etlerrors.CodeUploadFailed, "failed to open output "+outLoc.String(), err)
	}

	reader := source.NewReader(srcStore, source.Options{
		Root:              srcLoc.Root(),
		WorkDir:           filepath.Join(workDir, "source"),
		CheckModifiedTime: cfg.IO.CheckModifiedTime,
	})
	cal, err := reader.DetectCalendar(ctx)
	if err != nil {
		return report, err
	}
	window, err := partition.Plan(cfg.Timestamp.StartMs, cfg.Timestamp.EndMs, cfg.Transformation.DataFreshnessHours, cal)
	if err != nil {
		return report, err
	}
	report.Window = window.String()
	log.Printf("app: run %s window %s", report.RunID, report.Window)

	routerOpts := []router.Option{router.WithObserver(metrics)}
	if !cfg.Manifest.Disabled {
		catalog, cerr := manifest.NewCatalog(cfg.Manifest.Path)
		if cerr != nil {
			return report, cerr
		}
		defer catalog.Close()

		if err := catalog.BeginRun(ctx, report.RunID, cfg.Timestamp.StartMs, cfg.Timestamp.EndMs); err != nil {
			return report, err
		}
		defer func() {
			if ferr := catalog.FinishRun(context.WithoutCancel(ctx), report.RunID, report.InputRecords, report.OutputRecords, err); ferr != nil {
				log.Printf("app: failed to finish run %s in ledger: %v", report.RunID, ferr)
			}
		}()
		routerOpts = append(routerOpts, router.WithLedger(catalog.ForRun(report.RunID)))
	}

	input, err := reader.Read(ctx, window)
	if err != nil {
		return report, err
	}
	report.InputRecords = input.Len()

	exec := pipeline.NewExecutor(r.registry, rc,
		pipeline.WithWorkers(cfg.Transformation.Workers),
		pipeline.WithObserver(metrics))
	result, err := exec.Run(ctx, input, stages)
	if err != nil {
		return report, err
	}
	report.Stages = result.Stages

	events, err := schema.NewReconciler().ReconcileAll(result.Dataset)
	if err != nil {
		return report, err
	}
	report.OutputRecords = len(events)

	rt, err := router.New(outStore, outLoc, router.Options{
		Format:           string(cfg.IO.OutputFormat),
		Compression:      cfg.IO.Compression,
		OutputPartitions: cfg.Partition.OutputPartitions,
		WorkDir:          filepath.Join(workDir, "output"),
	}, routerOpts...)
	if err != nil {
		return report, err
	}

	report.Tables, err = rt.Route(ctx, events)
	if err != nil {
		return report, err
	}

	var merge []string
	for _, name := range rt.IncrementalTables() {
		if cfg.ShouldMerge(name) {
			merge = append(merge, name)
		}
	}
	if len(merge) > 0 {
		report.Merges, err = rt.Merge(ctx, merge)
		if err != nil {
			return report, err
		}
	}

	log.Printf("app: run %s finished: %d input records, %d events in %v",
		report.RunID, report.InputRecords, report.OutputRecords, time.Since(started).Round(time.Millisecond))
	return report, nil
}

func (r *Runner) pushMetrics(m *observability.Metrics) {
	if r.cfg.Metrics.PushGateway == "" {
		return
	}
	pusher, err := observability.NewPusher(r.cfg.Metrics.PushGateway, r.cfg.Metrics.Job, r.cfg.Transformation.ProjectID)
	if err != nil {
		log.Printf("app: metrics push disabled: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pusher.Push(ctx, m); err != nil {
		log.Printf("app: metrics push failed: %v", err)
	}
}
