package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	etlerrors "github.com/clickstream/etl/internal/errors"
)

// Run statuses.
const (
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = errors.New("manifest: run not found")

// Catalog records runs and their output objects.
type Catalog interface {
	// BeginRun records the start of a run.
	BeginRun(ctx context.Context, runID string, windowStart, windowEnd int64) error

	// FinishRun records the outcome of a run. runErr nil means success.
	FinishRun(ctx context.Context, runID string, inputRecords, outputRecords int, runErr error) error

	// RegisterFile records an object written by a run, replacing any
	// earlier record for the same path.
	RegisterFile(ctx context.Context, f FileEntry) error

	// MarkMerged records that staged objects were consolidated by runID and
	// removed.
	MarkMerged(ctx context.Context, runID string, objectPaths []string) error

	// RemoveFiles records that objects were deleted.
	RemoveFiles(ctx context.Context, objectPaths []string) error

	// StagedFiles returns the pending staged objects of a table.
	StagedFiles(ctx context.Context, table string) ([]*FileRecord, error)

	// GetRun retrieves a run by id.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	Close() error
}

// FileEntry describes one written object.
type FileEntry struct {
	ObjectPath string
	Table      string
	Partition  string
	RunID      string
	RowCount   int
	Staged     bool
}

// FileRecord is a file row of the ledger.
type FileRecord struct {
	FileEntry
	CreatedAt time.Time
	MergedBy  *string
	RemovedAt *time.Time
}

// RunRecord is a run row of the ledger.
type RunRecord struct {
	RunID         string
	WindowStart   int64
	WindowEnd     int64
	Status        string
	InputRecords  int
	OutputRecords int
	Error         *string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // single writer
	dbPath string
	mu     sync.Mutex

	registerFileStmt *sql.Stmt
}

// NewCatalog opens or creates the ledger at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{db: db, dbPath: dbPath}
	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}

	stmt, err := db.Prepare(`
		INSERT INTO files (object_path, table_name, partition_path, run_id, row_count, staged, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_path) DO UPDATE SET
			table_name = excluded.table_name,
			partition_path = excluded.partition_path,
			run_id = excluded.run_id,
			row_count = excluded.row_count,
			staged = excluded.staged,
			created_at = excluded.created_at,
			merged_by = NULL,
			removed_at = NULL`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to prepare insert statement: %w", err)
	}
	catalog.registerFileStmt = stmt

	return catalog, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// BeginRun records the start of a run.
func (c *SQLiteCatalog) BeginRun(ctx context.Context, runID string, windowStart, windowEnd int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, window_start, window_end, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, windowStart, windowEnd, StatusRunning, time.Now().UnixMilli())
	if err != nil {
		return ledgerError("failed to begin run", err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (c *SQLiteCatalog) FinishRun(ctx context.Context, runID string, inputRecords, outputRecords int, runErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := StatusSucceeded
	var errText *string
	if runErr != nil {
		status = StatusFailed
		s := runErr.Error()
		errText = &s
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, input_records = ?, output_records = ?, error = ?, finished_at = ?
		WHERE run_id = ?`,
		status, inputRecords, outputRecords, errText, time.Now().UnixMilli(), runID)
	if err != nil {
		return ledgerError("failed to finish run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledgerError(fmt.Sprintf("run %s", runID), ErrRunNotFound)
	}
	return nil
}

// RegisterFile records an object written by a run.
func (c *SQLiteCatalog) RegisterFile(ctx context.Context, f FileEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.registerFileStmt.ExecContext(ctx,
		f.ObjectPath, f.Table, f.Partition, f.RunID, f.RowCount, f.Staged, time.Now().UnixMilli())
	if err != nil {
		return ledgerError("failed to register file", err)
	}
	return nil
}

// MarkMerged records that staged objects were merged by runID.
func (c *SQLiteCatalog) MarkMerged(ctx context.Context, runID string, objectPaths []string) error {
	if len(objectPaths) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	query, args := inClause(`UPDATE files SET merged_by = ?, removed_at = ? WHERE object_path IN `, objectPaths,
		runID, time.Now().UnixMilli())
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return ledgerError("failed to mark files merged", err)
	}
	return nil
}

// RemoveFiles records that objects were deleted.
func (c *SQLiteCatalog) RemoveFiles(ctx context.Context, objectPaths []string) error {
	if len(objectPaths) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	query, args := inClause(`UPDATE files SET removed_at = ? WHERE removed_at IS NULL AND object_path IN `, objectPaths,
		time.Now().UnixMilli())
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return ledgerError("failed to remove files", err)
	}
	return nil
}

// StagedFiles returns the pending staged objects of a table in path order.
func (c *SQLiteCatalog) StagedFiles(ctx context.Context, table string) ([]*FileRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT object_path, table_name, partition_path, run_id, row_count, staged, created_at, merged_by, removed_at
		FROM files
		WHERE table_name = ? AND staged = 1 AND merged_by IS NULL AND removed_at IS NULL
		ORDER BY object_path`, table)
	if err != nil {
		return nil, ledgerError("failed to query staged files", err)
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		var r FileRecord
		var createdAt int64
		var removedAt *int64
		if err := rows.Scan(&r.ObjectPath, &r.Table, &r.Partition, &r.RunID, &r.RowCount, &r.Staged,
			&createdAt, &r.MergedBy, &removedAt); err != nil {
			return nil, ledgerError("failed to scan file", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		if removedAt != nil {
			t := time.UnixMilli(*removedAt)
			r.RemovedAt = &t
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgerError("error iterating files", err)
	}
	return records, nil
}

// GetRun retrieves a run by id.
func (c *SQLiteCatalog) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var r RunRecord
	var startedAt int64
	var finishedAt *int64
	err := c.db.QueryRowContext(ctx, `
		SELECT run_id, window_start, window_end, status, input_records, output_records, error, started_at, finished_at
		FROM runs WHERE run_id = ?`, runID).Scan(
		&r.RunID, &r.WindowStart, &r.WindowEnd, &r.Status, &r.InputRecords, &r.OutputRecords,
		&r.Error, &startedAt, &finishedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRunNotFound
		}
		return nil, ledgerError("failed to get run", err)
	}

	r.StartedAt = time.UnixMilli(startedAt)
	if finishedAt != nil {
		t := time.UnixMilli(*finishedAt)
		r.FinishedAt = &t
	}
	return &r, nil
}

// Close closes the ledger database.
func (c *SQLiteCatalog) Close() error {
	if c.registerFileStmt != nil {
		c.registerFileStmt.Close()
	}
	return c.db.Close()
}

// ForRun scopes the catalog to one run for the output router.
func (c *SQLiteCatalog) ForRun(runID string) *RunLedger {
	return &RunLedger{catalog: c, runID: runID}
}

// RunLedger records the objects of a single run.
type RunLedger struct {
	catalog Catalog
	runID   string
}

// RegisterFile records an object written by the run.
func (l *RunLedger) RegisterFile(ctx context.Context, f FileEntry) error {
	f.RunID = l.runID
	return l.catalog.RegisterFile(ctx, f)
}

// MarkMerged records staged objects merged by the run.
func (l *RunLedger) MarkMerged(ctx context.Context, objectPaths []string) error {
	return l.catalog.MarkMerged(ctx, l.runID, objectPaths)
}

// RemoveFiles records deleted objects.
func (l *RunLedger) RemoveFiles(ctx context.Context, objectPaths []string) error {
	return l.catalog.RemoveFiles(ctx, objectPaths)
}

func inClause(prefix string, values []string, leading ...interface{}) (string, []interface{}) {
	args := make([]interface{}, 0, len(leading)+len(values))
	args = append(args, leading...)
	for _, v := range values {
		args = append(args, v)
	}
	return prefix + "(" + strings.TrimSuffix(strings.Repeat("?,", len(values)), ",") + ")", args
}

func ledgerError(message string, err error) error {
	return etlerrors.NewManifestError(etlerrors.CodeLedgerFailed, "manifest: "+message, err)
}
