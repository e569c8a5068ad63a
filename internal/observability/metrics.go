// Package observability collects run metrics in a Prometheus registry and
// pushes them to a Pushgateway when the run ends.
package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/clickstream/etl/internal/pipeline"
)

// Metrics holds the collectors of one run.
type Metrics struct {
	reg *prometheus.Registry

	stageRecords  *prometheus.CounterVec // clickstream_stage_records_total
	stageDuration *prometheus.SummaryVec // clickstream_stage_duration_seconds
	tableRows     *prometheus.CounterVec // clickstream_table_rows_total
	tableFiles    *prometheus.CounterVec // clickstream_table_files_total
	mergeRows     *prometheus.CounterVec // clickstream_merge_rows_total
	runs          *prometheus.CounterVec // clickstream_runs_total
	runDuration   prometheus.Gauge       // clickstream_run_duration_seconds
}

// NewMetrics creates and registers the run collectors.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		stageRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clickstream_stage_records_total",
			Help: "Records seen by each stage, by kind (in, out, failed, dropped).",
		}, []string{"stage", "kind"}),
		stageDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       "clickstream_stage_duration_seconds",
			Help:       "Duration of each stage in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"stage"}),
		tableRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clickstream_table_rows_total",
			Help: "Rows written per output table.",
		}, []string{"table"}),
		tableFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clickstream_table_files_total",
			Help: "Output objects per table, by operation (written, staged, deleted).",
		}, []string{"table", "op"}),
		mergeRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clickstream_merge_rows_total",
			Help: "Rows kept by incremental merges per table.",
		}, []string{"table"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clickstream_runs_total",
			Help: "Finished runs by status.",
		}, []string{"status"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clickstream_run_duration_seconds",
			Help: "Duration of the last run in seconds.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.stageRecords, m.stageDuration, m.tableRows, m.tableFiles, m.mergeRows, m.runs, m.runDuration,
	} {
		if err := m.reg.Register(c); err != nil {
			return nil, fmt.Errorf("observability: register collector: %w", err)
		}
	}
	return m, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// StageCompleted records the statistics of one executed stage.
func (m *Metrics) StageCompleted(s pipeline.StageStats) {
	m.stageRecords.WithLabelValues(s.Stage, "in").Add(float64(s.In))
	m.stageRecords.WithLabelValues(s.Stage, "out").Add(float64(s.Out))
	m.stageRecords.WithLabelValues(s.Stage, "failed").Add(float64(s.Failed))
	m.stageRecords.WithLabelValues(s.Stage, "dropped").Add(float64(s.Dropped))
	m.stageDuration.WithLabelValues(s.Stage).Observe(s.Duration.Seconds())
}

// TableWritten records rows and objects written for a table.
func (m *Metrics) TableWritten(table string, rows, files int, staged bool) {
	m.tableRows.WithLabelValues(table).Add(float64(rows))
	op := "written"
	if staged {
		op = "staged"
	}
	m.tableFiles.WithLabelValues(table, op).Add(float64(files))
}

// FilesDeleted records objects removed from a table.
func (m *Metrics) FilesDeleted(table string, files int) {
	m.tableFiles.WithLabelValues(table, "deleted").Add(float64(files))
}

// TableMerged records the rows kept by a merge.
func (m *Metrics) TableMerged(table string, rows int) {
	m.mergeRows.WithLabelValues(table).Add(float64(rows))
}

// RunFinished records the outcome and duration of the run.
func (m *Metrics) RunFinished(d time.Duration, err error) {
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Set(d.Seconds())
}

// Pusher pushes the registry to a Pushgateway.
type Pusher struct {
	gatewayURL string
	jobName    string
	instance   string
}

// NewPusher creates a pusher. An empty gatewayURL is an error.
func NewPusher(gatewayURL, jobName, instance string) (*Pusher, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("observability: gateway URL is required")
	}
	if jobName == "" {
		jobName = "clickstream-etl"
	}
	return &Pusher{gatewayURL: gatewayURL, jobName: jobName, instance: instance}, nil
}

// Push replaces the job's metrics on the Pushgateway with m.
func (p *Pusher) Push(ctx context.Context, m *Metrics) error {
	pusher := push.New(p.gatewayURL, p.jobName).Gatherer(m.reg)
	if p.instance != "" {
		pusher = pusher.Grouping("instance", p.instance)
	}
	return pusher.PushContext(ctx)
}
