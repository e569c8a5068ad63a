// Package main implements the clickstream-etl batch binary. One invocation
// processes one time window and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clickstream/etl/internal/app"
	"github.com/clickstream/etl/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		envFile     string
		start       string
		end         string
		source      string
		output      string
		forceMerge  bool
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before reading the environment")
	flag.StringVar(&start, "start", "", "Window start (Unix milliseconds or RFC 3339)")
	flag.StringVar(&end, "end", "", "Window end, exclusive (Unix milliseconds or RFC 3339)")
	flag.StringVar(&source, "source", "", "Input location (directory or s3://bucket/prefix)")
	flag.StringVar(&output, "output", "", "Output location (directory or s3://bucket/prefix)")
	flag.BoolVar(&forceMerge, "force-merge", false, "Merge every incremental table after routing")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "clickstream-etl - batch ETL for raw clickstream events\n\n")
		fmt.Fprintf(os.Stderr, "Usage: clickstream-etl [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  clickstream-etl -config etl.yaml -start 2024-04-01T00:00:00Z -end 2024-04-02T00:00:00Z\n")
		fmt.Fprintf(os.Stderr, "  clickstream-etl -source s3://raw/clicks -output s3://lake/clicks -force-merge\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  CLICKSTREAM_PROJECT_ID      Project id stamped on every event\n")
		fmt.Fprintf(os.Stderr, "  CLICKSTREAM_VALID_APP_IDS   Comma separated app id allow-list\n")
		fmt.Fprintf(os.Stderr, "  CLICKSTREAM_TRANSFORMERS    Comma separated stage chain\n")
		fmt.Fprintf(os.Stderr, "  CLICKSTREAM_SOURCE/OUTPUT   Input and output locations\n")
		fmt.Fprintf(os.Stderr, "  CLICKSTREAM_PUSH_GATEWAY    Prometheus Pushgateway URL\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("clickstream-etl version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("Ignoring env file %s: %v", envFile, err)
	}

	cfg, err := loadConfig(configFile, start, end, source, output, forceMerge)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	runner, err := app.NewRunner(cfg)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	report, err := runner.Run(ctx)
	if err != nil {
		log.Printf("Run failed: %v", err)
		stop()
		os.Exit(1)
	}
	printReport(report)
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, start, end, source, output string, forceMerge bool) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	}

	config.LoadFromEnv(cfg)

	if start != "" {
		ms, err := parseTime(start)
		if err != nil {
			return nil, fmt.Errorf("invalid -start: %w", err)
		}
		cfg.Timestamp.StartMs = ms
	}
	if end != "" {
		ms, err := parseTime(end)
		if err != nil {
			return nil, fmt.Errorf("invalid -end: %w", err)
		}
		cfg.Timestamp.EndMs = ms
	}
	if source != "" {
		cfg.IO.Source = source
	}
	if output != "" {
		cfg.IO.Output = output
	}
	if forceMerge {
		cfg.Merge.Force = true
	}
	return cfg, nil
}

// parseTime accepts Unix milliseconds or an RFC 3339 timestamp.
func parseTime(v string) (int64, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func printReport(r *app.Report) {
	fmt.Printf("run %s: %d input records, %d events (%v)\n", r.RunID, r.InputRecords, r.OutputRecords, r.Duration.Round(time.Millisecond))
	fmt.Printf("window %s\n", r.Window)

	names := make([]string, 0, len(r.Tables))
	for name := range r.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := r.Tables[name]
		fmt.Printf("  %-22s %8d rows  %4d files\n", name, t.Rows, len(t.Files))
	}
	merged := make([]string, 0, len(r.Merges))
	for name := range r.Merges {
		merged = append(merged, name)
	}
	sort.Strings(merged)
	for _, name := range merged {
		m := r.Merges[name]
		fmt.Printf("  merged %-15s %8d rows  %4d staged files\n", name, m.Rows, m.StagedFiles)
	}
}
