// Package config provides the run configuration for the clickstream ETL.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutputFormat is the file format of the output tables.
type OutputFormat string

const (
	FormatJSON    OutputFormat = "json"
	FormatParquet OutputFormat = "parquet"
)

// Config holds one run's configuration. It is built once before processing
// and must not be mutated after Validate succeeds.
type Config struct {
	// DataDir is the base directory for local work files and the manifest
	DataDir string `json:"data_dir" yaml:"data_dir"`

	Transformation TransformationConfig `json:"transformation" yaml:"transformation"`
	IO             IOConfig             `json:"io" yaml:"io"`
	Timestamp      TimestampConfig      `json:"timestamp" yaml:"timestamp"`
	Partition      PartitionConfig      `json:"partition" yaml:"partition"`
	Merge          MergeConfig          `json:"merge" yaml:"merge"`
	Storage        StorageConfig        `json:"storage" yaml:"storage"`
	Manifest       ManifestConfig       `json:"manifest" yaml:"manifest"`
	Metrics        MetricsConfig        `json:"metrics" yaml:"metrics"`
}

// TransformationConfig holds the stage chain and the values stages read.
type TransformationConfig struct {
	// Transformers is the ordered list of stage names
	Transformers []string `json:"transformers" yaml:"transformers"`

	// ProjectID is stamped on every output record
	ProjectID string `json:"project_id" yaml:"project_id"`

	// ValidAppIDs is the app id allow-list
	ValidAppIDs []string `json:"valid_app_ids" yaml:"valid_app_ids"`

	// DataFreshnessHours widens partition pruning before the start timestamp
	DataFreshnessHours int64 `json:"data_freshness_hours" yaml:"data_freshness_hours"`

	// GeoDatabase is the MaxMind database used by the ip-enrichment stage
	GeoDatabase string `json:"geo_database" yaml:"geo_database"`

	// Workers bounds per-stage record parallelism (0 = number of CPUs)
	Workers int `json:"workers" yaml:"workers"`
}

// IOConfig holds input and output locations.
type IOConfig struct {
	// Source is the input location: a local directory or s3://bucket/prefix
	Source string `json:"source" yaml:"source"`

	// Output is the output root: a local directory or s3://bucket/prefix
	Output string `json:"output" yaml:"output"`

	// OutputFormat is json or parquet
	OutputFormat OutputFormat `json:"output_format" yaml:"output_format"`

	// Compression is none or snappy
	Compression string `json:"compression" yaml:"compression"`

	// WorkDir holds downloaded inputs and files waiting for upload
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// CheckModifiedTime restricts input objects to those modified inside the window
	CheckModifiedTime bool `json:"check_modified_time" yaml:"check_modified_time"`

	// DebugDir receives a JSON lines dump of every stage's output when set
	DebugDir string `json:"debug_dir" yaml:"debug_dir"`
}

// TimestampConfig is the half-open run window in Unix milliseconds.
type TimestampConfig struct {
	StartMs int64 `json:"start_ms" yaml:"start_ms"`
	EndMs   int64 `json:"end_ms" yaml:"end_ms"`
}

// PartitionConfig holds partition count hints.
type PartitionConfig struct {
	// OutputPartitions is the number of files per output partition (-1 = one)
	OutputPartitions int `json:"output_partitions" yaml:"output_partitions"`
}

// MergeConfig controls the merge of incremental tables.
type MergeConfig struct {
	// Force merges every incremental table after routing
	Force bool `json:"force" yaml:"force"`

	// Tables forces the merge of individual incremental tables
	Tables map[string]bool `json:"tables" yaml:"tables"`
}

// StorageConfig holds object storage settings for s3:// locations.
type StorageConfig struct {
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// ManifestConfig holds the run ledger settings.
type ManifestConfig struct {
	// Path is the SQLite ledger file (default <data_dir>/manifest.db)
	Path string `json:"path" yaml:"path"`

	// Disabled turns the ledger off
	Disabled bool `json:"disabled" yaml:"disabled"`
}

// MetricsConfig holds the Pushgateway settings.
type MetricsConfig struct {
	// PushGateway is the Pushgateway base URL; empty disables pushing
	PushGateway string `json:"push_gateway" yaml:"push_gateway"`

	// Job is the Pushgateway job name
	Job string `json:"job" yaml:"job"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/clickstream",
		Transformation: TransformationConfig{
			Transformers:       []string{"transformer", "ua-enrichment"},
			DataFreshnessHours: 72,
		},
		IO: IOConfig{
			OutputFormat: FormatJSON,
			Compression:  "none",
		},
		Partition: PartitionConfig{
			OutputPartitions: -1,
		},
		Metrics: MetricsConfig{
			Job: "clickstream-etl",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/clickstream"
	}
	if c.IO.WorkDir == "" {
		c.IO.WorkDir = filepath.Join(c.DataDir, "work")
	}
	if c.Manifest.Path == "" {
		c.Manifest.Path = filepath.Join(c.DataDir, "manifest.db")
	}
	if c.IO.Compression == "" {
		c.IO.Compression = "none"
	}
	if c.Partition.OutputPartitions == 0 {
		c.Partition.OutputPartitions = -1
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Transformation.Transformers) == 0 {
		return fmt.Errorf("transformation.transformers must not be empty")
	}
	if c.Transformation.ProjectID == "" {
		return fmt.Errorf("transformation.project_id is required")
	}
	if len(c.Transformation.ValidAppIDs) == 0 {
		return fmt.Errorf("transformation.valid_app_ids must not be empty")
	}
	if c.Transformation.DataFreshnessHours < 0 {
		return fmt.Errorf("transformation.data_freshness_hours must be >= 0, got %d", c.Transformation.DataFreshnessHours)
	}
	if c.IO.Source == "" {
		return fmt.Errorf("io.source is required")
	}
	if c.IO.Output == "" {
		return fmt.Errorf("io.output is required")
	}

	switch c.IO.OutputFormat {
	case FormatJSON, FormatParquet:
	default:
		return fmt.Errorf("invalid io.output_format: %s (must be json or parquet)", c.IO.OutputFormat)
	}
	switch c.IO.Compression {
	case "none", "snappy":
	default:
		return fmt.Errorf("invalid io.compression: %s (must be none or snappy)", c.IO.Compression)
	}

	if c.Timestamp.StartMs < 0 || c.Timestamp.EndMs < 0 {
		return fmt.Errorf("timestamp.start_ms and timestamp.end_ms must be >= 0")
	}
	if c.Timestamp.StartMs > c.Timestamp.EndMs {
		return fmt.Errorf("timestamp.start_ms (%d) must not be after timestamp.end_ms (%d)", c.Timestamp.StartMs, c.Timestamp.EndMs)
	}
	if c.Partition.OutputPartitions == 0 || c.Partition.OutputPartitions < -1 {
		return fmt.Errorf("partition.output_partitions must be -1 or > 0, got %d", c.Partition.OutputPartitions)
	}
	if c.Transformation.Workers < 0 {
		return fmt.Errorf("transformation.workers must be >= 0, got %d", c.Transformation.Workers)
	}
	return nil
}

// ShouldMerge reports whether the incremental table must be merged this run.
func (c *Config) ShouldMerge(table string) bool {
	return c.Merge.Force || c.Merge.Tables[table]
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CLICKSTREAM_ prefix; list values are
// comma separated.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CLICKSTREAM_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Transformation configuration
	if v := os.Getenv("CLICKSTREAM_TRANSFORMERS"); v != "" {
		cfg.Transformation.Transformers = splitList(v)
	}
	if v := os.Getenv("CLICKSTREAM_PROJECT_ID"); v != "" {
		cfg.Transformation.ProjectID = v
	}
	if v := os.Getenv("CLICKSTREAM_VALID_APP_IDS"); v != "" {
		cfg.Transformation.ValidAppIDs = splitList(v)
	}
	if v := os.Getenv("CLICKSTREAM_DATA_FRESHNESS_HOURS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Transformation.DataFreshnessHours)
	}
	if v := os.Getenv("CLICKSTREAM_GEO_DATABASE"); v != "" {
		cfg.Transformation.GeoDatabase = v
	}
	if v := os.Getenv("CLICKSTREAM_WORKERS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Transformation.Workers)
	}

	// IO configuration
	if v := os.Getenv("CLICKSTREAM_SOURCE"); v != "" {
		cfg.IO.Source = v
	}
	if v := os.Getenv("CLICKSTREAM_OUTPUT"); v != "" {
		cfg.IO.Output = v
	}
	if v := os.Getenv("CLICKSTREAM_OUTPUT_FORMAT"); v != "" {
		cfg.IO.OutputFormat = OutputFormat(v)
	}
	if v := os.Getenv("CLICKSTREAM_COMPRESSION"); v != "" {
		cfg.IO.Compression = v
	}
	if v := os.Getenv("CLICKSTREAM_WORK_DIR"); v != "" {
		cfg.IO.WorkDir = v
	}
	if v := os.Getenv("CLICKSTREAM_CHECK_MODIFIED_TIME"); v != "" {
		cfg.IO.CheckModifiedTime = parseBool(v)
	}
	if v := os.Getenv("CLICKSTREAM_DEBUG_DIR"); v != "" {
		cfg.IO.DebugDir = v
	}

	// Window and partition hints
	if v := os.Getenv("CLICKSTREAM_START_MS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Timestamp.StartMs)
	}
	if v := os.Getenv("CLICKSTREAM_END_MS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Timestamp.EndMs)
	}
	if v := os.Getenv("CLICKSTREAM_OUTPUT_PARTITIONS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Partition.OutputPartitions)
	}

	// Merge configuration
	if v := os.Getenv("CLICKSTREAM_FORCE_MERGE"); v != "" {
		cfg.Merge.Force = parseBool(v)
	}

	// Storage configuration
	if v := os.Getenv("CLICKSTREAM_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("CLICKSTREAM_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("CLICKSTREAM_S3_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = parseBool(v)
	}

	if v := os.Getenv("CLICKSTREAM_MANIFEST_PATH"); v != "" {
		cfg.Manifest.Path = v
	}
	if v := os.Getenv("CLICKSTREAM_PUSH_GATEWAY"); v != "" {
		cfg.Metrics.PushGateway = v
	}
}

// EnsureDirectories creates all required local directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.IO.WorkDir,
		c.IO.DebugDir,
	}
	if !c.Manifest.Disabled {
		dirs = append(dirs, filepath.Dir(c.Manifest.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
