package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clickstream/etl/internal/config"
	etlerrors "github.com/clickstream/etl/internal/errors"
	"github.com/clickstream/etl/internal/manifest"
	"github.com/clickstream/etl/internal/router"
)

const eventJSON = `{
	"event_type": "_page_view",
	"event_id": "e-1",
	"timestamp": 1682319600000,
	"unique_id": "u-1",
	"device_id": "dev-1",
	"platform": "Android",
	"app_id": "uba-app",
	"attributes": {"_traffic_source_medium": "cpc", "_page_referer": "https://example.com/", "count": "3"},
	"user": {"level": "7"}
}`

const (
	windowStart = int64(1682319600000) // 2023-04-24T07:00:00Z
	windowEnd   = windowStart + 3600*1000
)

func envelopeLine(t *testing.T, appID string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.Compact(&buf, []byte(eventJSON)))
	return fmt.Sprintf(`{"appId":%q,"data":%s,"ip":"203.0.113.7","ua":"Mozilla/5.0 (Linux; Android 10)","ingest_time":%d,"uri":"/collect?upload_timestamp=%d"}`,
		appID, buf.String(), windowStart+2000, windowStart+1000)
}

func writeSource(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	day := filepath.Join(dir, "year=2023", "month=04", "day=24")
	require.NoError(t, os.MkdirAll(day, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(day, "part-0.json"), []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return dir
}

func testConfig(t *testing.T, source string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Transformation.ProjectID = "project_1"
	cfg.Transformation.ValidAppIDs = []string{"uba-app"}
	cfg.IO.Source = source
	cfg.IO.Output = t.TempDir()
	cfg.Timestamp.StartMs = windowStart
	cfg.Timestamp.EndMs = windowEnd
	return cfg
}

func TestRunner_EndToEnd(t *testing.T) {
	src := writeSource(t, envelopeLine(t, "uba-app"), envelopeLine(t, "other-app"), "not json")
	cfg := testConfig(t, src)
	cfg.Merge.Force = true

	runner, err := NewRunner(cfg)
	require.NoError(t, err)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.InputRecords)
	assert.Equal(t, 1, report.OutputRecords)
	require.Len(t, report.Stages, 2)
	assert.Equal(t, 1, report.Stages[0].Out)

	assert.Equal(t, 1, report.Tables[router.TableEvent].Rows)
	assert.Equal(t, 1, report.Tables[router.TableUser].Rows)
	assert.Equal(t, 1, report.Merges[router.TableUserTrafficSource].StagedFiles)
	assert.Equal(t, 1, report.Merges[router.TableUserPageReferer].Rows)

	eventDir := filepath.Join(cfg.IO.Output, "event", "partition_app=uba-app",
		"partition_year=2023", "partition_month=04", "partition_day=24")
	_, err = os.Stat(filepath.Join(eventDir, "part-00000.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.IO.Output, router.TableUserTrafficSource+router.IncrementalSuffix))
	if err == nil {
		entries, _ := os.ReadDir(filepath.Join(cfg.IO.Output, router.TableUserTrafficSource+router.IncrementalSuffix))
		for _, e := range entries {
			assert.True(t, e.IsDir(), "staged file left behind: %s", e.Name())
		}
	}

	catalog, err := manifest.NewCatalog(cfg.Manifest.Path)
	require.NoError(t, err)
	defer catalog.Close()
	run, err := catalog.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusSucceeded, run.Status)
	assert.Equal(t, 1, run.OutputRecords)
}

func TestRunner_UnknownStageWritesNothing(t *testing.T) {
	cfg := testConfig(t, writeSource(t, envelopeLine(t, "uba-app")))
	cfg.Transformation.Transformers = []string{"transformer", "sessionizer"}

	runner, err := NewRunner(cfg)
	require.NoError(t, err)
	_, err = runner.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, etlerrors.ErrCategoryConfiguration, etlerrors.GetCategory(err))

	entries, err := os.ReadDir(cfg.IO.Output)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunner_UnknownStageFailsBeforeSourceAccess(t *testing.T) {
	// a regular file cannot be opened as a source directory
	notADir := filepath.Join(t.TempDir(), "source")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0644))

	cfg := testConfig(t, notADir)
	cfg.Transformation.Transformers = []string{"sessionizer"}

	runner, err := NewRunner(cfg)
	require.NoError(t, err)
	_, err = runner.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, etlerrors.ErrCategoryConfiguration, etlerrors.GetCategory(err))
	assert.Equal(t, etlerrors.CodeUnknownStage, etlerrors.GetCode(err))
}

func TestRunner_EmptyWindowWritesNoTables(t *testing.T) {
	cfg := testConfig(t, writeSource(t, envelopeLine(t, "uba-app")))
	cfg.Timestamp.StartMs = windowEnd
	cfg.Timestamp.EndMs = windowEnd + 1000
	cfg.Manifest.Disabled = true

	runner, err := NewRunner(cfg)
	require.NoError(t, err)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.OutputRecords)
	for name, res := range report.Tables {
		assert.Equal(t, 0, res.Rows, name)
	}
	entries, err := os.ReadDir(cfg.IO.Output)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewRunner_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	_, err := NewRunner(cfg)
	require.Error(t, err)
	assert.True(t, etlerrors.IsFatal(err))
}
