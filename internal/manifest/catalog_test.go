package manifest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	catalog, err := NewCatalog(filepath.Join(t.TempDir(), "manifest.db"))
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func TestCatalog_RunLifecycle(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	if err := catalog.BeginRun(ctx, "run-1", 100, 200); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	run, err := catalog.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != StatusRunning || run.FinishedAt != nil {
		t.Errorf("unexpected running state: %+v", run)
	}

	if err := catalog.FinishRun(ctx, "run-1", 10, 7, nil); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	run, err = catalog.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != StatusSucceeded || run.InputRecords != 10 || run.OutputRecords != 7 {
		t.Errorf("unexpected finished run: %+v", run)
	}
	if run.WindowStart != 100 || run.WindowEnd != 200 || run.FinishedAt == nil {
		t.Errorf("unexpected window or finish time: %+v", run)
	}

	if err := catalog.BeginRun(ctx, "run-2", 0, 1); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if err := catalog.FinishRun(ctx, "run-2", 0, 0, errors.New("boom")); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	run, _ = catalog.GetRun(ctx, "run-2")
	if run.Status != StatusFailed || run.Error == nil || *run.Error != "boom" {
		t.Errorf("unexpected failed run: %+v", run)
	}

	if _, err := catalog.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if err := catalog.FinishRun(ctx, "missing", 0, 0, nil); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestCatalog_StagedFilesAndMerge(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	for _, id := range []string{"run-1", "run-2"} {
		if err := catalog.BeginRun(ctx, id, 0, 1); err != nil {
			t.Fatalf("BeginRun failed: %v", err)
		}
	}

	ledger := catalog.ForRun("run-1")
	files := []FileEntry{
		{ObjectPath: "user_traffic_source_incremental/p=1/part-B.json", Table: "user_traffic_source", Partition: "p=1", RowCount: 3, Staged: true},
		{ObjectPath: "user_traffic_source_incremental/p=1/part-A.json", Table: "user_traffic_source", Partition: "p=1", RowCount: 2, Staged: true},
		{ObjectPath: "event/p=1/part-00000.json", Table: "event", Partition: "p=1", RowCount: 5},
	}
	for _, f := range files {
		if err := ledger.RegisterFile(ctx, f); err != nil {
			t.Fatalf("RegisterFile failed: %v", err)
		}
	}

	staged, err := catalog.StagedFiles(ctx, "user_traffic_source")
	if err != nil {
		t.Fatalf("StagedFiles failed: %v", err)
	}
	if len(staged) != 2 {
		t.Fatalf("expected 2 staged files, got %d", len(staged))
	}
	if staged[0].ObjectPath != files[1].ObjectPath || staged[0].RunID != "run-1" || !staged[0].Staged {
		t.Errorf("unexpected first staged file: %+v", staged[0])
	}

	if err := catalog.ForRun("run-2").MarkMerged(ctx, []string{files[0].ObjectPath, files[1].ObjectPath}); err != nil {
		t.Fatalf("MarkMerged failed: %v", err)
	}
	staged, err = catalog.StagedFiles(ctx, "user_traffic_source")
	if err != nil {
		t.Fatalf("StagedFiles failed: %v", err)
	}
	if len(staged) != 0 {
		t.Errorf("expected no staged files after merge, got %d", len(staged))
	}

	if err := ledger.RemoveFiles(ctx, []string{files[2].ObjectPath}); err != nil {
		t.Fatalf("RemoveFiles failed: %v", err)
	}
	// rewriting a removed path makes it live again
	if err := ledger.RegisterFile(ctx, files[0]); err != nil {
		t.Fatalf("RegisterFile failed: %v", err)
	}
	staged, _ = catalog.StagedFiles(ctx, "user_traffic_source")
	if len(staged) != 1 {
		t.Errorf("expected re-registered staged file, got %d", len(staged))
	}
}

func TestInClause(t *testing.T) {
	query, args := inClause("DELETE FROM files WHERE object_path IN ", []string{"a", "b"}, 1)
	if query != "DELETE FROM files WHERE object_path IN (?,?)" {
		t.Errorf("unexpected query: %s", query)
	}
	if len(args) != 3 || args[0] != 1 || args[2] != "b" {
		t.Errorf("unexpected args: %v", args)
	}
}
