// Package manifest provides the run ledger: a SQLite database recording
// every run and every output object it wrote, staged, merged or removed.
package manifest

// CreateRunsTableSQL creates the runs table.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    window_start INTEGER NOT NULL,
    window_end INTEGER NOT NULL,
    status TEXT NOT NULL,
    input_records INTEGER NOT NULL DEFAULT 0,
    output_records INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    started_at INTEGER NOT NULL,
    finished_at INTEGER
)`

// CreateFilesTableSQL creates the files table. A row is live while
// removed_at is NULL; staged rows are additionally pending until merged_by
// is set.
const CreateFilesTableSQL = `
CREATE TABLE IF NOT EXISTS files (
    object_path TEXT PRIMARY KEY,
    table_name TEXT NOT NULL,
    partition_path TEXT NOT NULL,
    run_id TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    staged INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    merged_by TEXT,
    removed_at INTEGER,
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
)`

// CreateFilesIndexesSQL creates indexes for the ledger lookups.
var CreateFilesIndexesSQL = []string{
	// Pending staged files per table, the merge lookup
	`CREATE INDEX IF NOT EXISTS idx_files_staged ON files(table_name, partition_path)
		WHERE staged = 1 AND merged_by IS NULL AND removed_at IS NULL`,

	`CREATE INDEX IF NOT EXISTS idx_files_run ON files(run_id)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the ledger.
func AllSchemaSQL() []string {
	statements := []string{
		CreateRunsTableSQL,
		CreateFilesTableSQL,
	}
	statements = append(statements, CreateFilesIndexesSQL...)
	return statements
}
