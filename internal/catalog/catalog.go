package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/wsitile/internal/model"
)

// FileName is the name of the catalog database inside its directory.
const FileName = "wsitile.db"

// Catalog provides SQLite-based storage for run history.
//
// One catalog file holds every run; history queries and digest lookups
// span runs.
type Catalog struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures Catalog behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default catalog options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a catalog in dir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dir string, opts Options) (*Catalog, error) {
	dbPath := filepath.Join(dir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog not found at %s: %w", dbPath, err)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check catalog path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}
	// history may read while a run is still writing.
	dsn += "&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	c := &Catalog{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := c.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return c, nil
}

// Path returns the database file path.
func (c *Catalog) Path() string {
	return c.dbPath
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// createTables creates the schema if it doesn't exist.
func (c *Catalog) createTables() error {
	schema := `
	-- One row per command invocation
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		input TEXT NOT NULL,
		output TEXT NOT NULL,
		scale REAL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		elapsed_ms INTEGER,
		cancelled INTEGER DEFAULT 0,
		summary TEXT,
		report_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp);

	-- Tiles written by tile runs
	CREATE TABLE IF NOT EXISTS tiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		slide TEXT NOT NULL,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		scale REAL NOT NULL,
		digest TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(path)
	);

	CREATE INDEX IF NOT EXISTS idx_tiles_run ON tiles(run_id);
	CREATE INDEX IF NOT EXISTS idx_tiles_digest ON tiles(digest);
	CREATE INDEX IF NOT EXISTS idx_tiles_slide ON tiles(slide);

	-- Nucleus counts and bucket placement of classified tiles
	CREATE TABLE IF NOT EXISTS classifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		name TEXT NOT NULL,
		source TEXT,
		count INTEGER NOT NULL,
		bucket TEXT NOT NULL,
		output_path TEXT NOT NULL,
		count_ms INTEGER,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_class_run ON classifications(run_id);
	CREATE INDEX IF NOT EXISTS idx_class_bucket ON classifications(bucket);
	`

	_, err := c.db.ExecContext(context.Background(), schema)
	return err
}

// Summary is the per-run digest shown by the history listing.
type Summary struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Tiles     int            `json:"tiles"`
	Buckets   map[string]int `json:"buckets,omitempty"`
}

func summarize(r *model.BatchReport) Summary {
	return Summary{
		Total:     r.Total(),
		Succeeded: r.Count(model.OutcomeSuccess),
		Skipped:   r.Count(model.OutcomeSkipped),
		Failed:    r.Count(model.OutcomeFailed),
		Tiles:     r.TilesWritten(),
		Buckets:   r.Buckets,
	}
}

// SaveRun stores a finished batch report and returns its run ID.
func (c *Catalog) SaveRun(ctx context.Context, report *model.BatchReport) (int64, error) {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize report: %w", err)
	}
	summaryJSON, err := json.Marshal(summarize(report))
	if err != nil {
		return 0, fmt.Errorf("failed to serialize summary: %w", err)
	}

	query := `
	INSERT INTO runs (kind, input, output, scale, elapsed_ms, cancelled, summary, report_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := c.db.ExecContext(ctx, query,
		string(report.Kind),
		report.Input,
		report.Output,
		report.Scale,
		report.Elapsed().Milliseconds(),
		report.Cancelled,
		string(summaryJSON),
		string(reportJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save run: %w", err)
	}

	return result.LastInsertId()
}

// RecordTiles stores the tiles written by a run in one transaction.
// A path written again by a later run is re-attributed to that run.
func (c *Catalog) RecordTiles(ctx context.Context, runID int64, jobs []*model.TileJob) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO tiles (run_id, slide, name, path, x, y, scale, digest)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		run_id = excluded.run_id,
		digest = excluded.digest,
		timestamp = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare tile insert: %w", err)
	}
	defer stmt.Close()

	for _, job := range jobs {
		if job.Tile == nil || job.TilePath == "" {
			continue
		}
		if _, err = stmt.ExecContext(ctx,
			runID,
			job.Tile.Slide,
			job.Name,
			job.TilePath,
			job.Tile.Origin.X,
			job.Tile.Origin.Y,
			job.Tile.Scale,
			job.Digest,
		); err != nil {
			return fmt.Errorf("failed to record tile %s: %w", job.Name, err)
		}
	}

	return tx.Commit()
}

// RecordClassifications stores the stored tiles of a run in one transaction.
// Jobs that did not reach the stored state are ignored.
func (c *Catalog) RecordClassifications(ctx context.Context, runID int64, jobs []*model.TileJob) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO classifications (run_id, name, source, count, bucket, output_path, count_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare classification insert: %w", err)
	}
	defer stmt.Close()

	for _, job := range jobs {
		if job.State < model.TileStateStored {
			continue
		}
		source := job.Source
		if source == "" {
			source = job.TilePath
		}
		if _, err = stmt.ExecContext(ctx,
			runID,
			job.Name,
			source,
			job.Count,
			job.Bucket,
			job.OutputPath,
			job.CountElapsed.Milliseconds(),
		); err != nil {
			return fmt.Errorf("failed to record classification %s: %w", job.Name, err)
		}
	}

	return tx.Commit()
}

// RunMetadata contains summary information about a stored run.
// This is used for listing history without loading full reports.
type RunMetadata struct {
	// ID is the unique identifier of the run.
	ID int64 `json:"id"`

	// Kind is the command that produced the run.
	Kind model.RunKind `json:"kind"`

	// Input and Output are the paths given on the command line.
	Input  string `json:"input"`
	Output string `json:"output"`

	// Scale is the resize factor of tile runs.
	Scale float64 `json:"scale,omitempty"`

	// Timestamp is when the run was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Elapsed is the run duration.
	Elapsed time.Duration `json:"elapsed"`

	// Cancelled reports whether the run stopped early.
	Cancelled bool `json:"cancelled"`

	// Summary holds outcome and bucket counts.
	Summary Summary `json:"summary"`
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (c *Catalog) ListRuns(ctx context.Context, limit int) ([]RunMetadata, error) {
	query := `
	SELECT id, kind, input, output, scale, timestamp, elapsed_ms, cancelled, summary
	FROM runs
	ORDER BY id DESC
	`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var results []RunMetadata
	for rows.Next() {
		var meta RunMetadata
		var kind, timestamp string
		var scale sql.NullFloat64
		var elapsed sql.NullInt64
		var summaryJSON sql.NullString

		if err := rows.Scan(
			&meta.ID,
			&kind,
			&meta.Input,
			&meta.Output,
			&scale,
			&timestamp,
			&elapsed,
			&meta.Cancelled,
			&summaryJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		meta.Kind = model.RunKind(kind)
		meta.Scale = scale.Float64
		meta.Timestamp = parseTimestamp(timestamp)
		meta.Elapsed = time.Duration(elapsed.Int64) * time.Millisecond
		if summaryJSON.Valid && summaryJSON.String != "" {
			if err := json.Unmarshal([]byte(summaryJSON.String), &meta.Summary); err != nil {
				meta.Summary = Summary{}
			}
		}

		results = append(results, meta)
	}

	return results, rows.Err()
}

// GetRun retrieves the full report of a run. It returns nil, nil when no
// run has that ID.
func (c *Catalog) GetRun(ctx context.Context, id int64) (*model.BatchReport, error) {
	var reportJSON string
	err := c.db.QueryRowContext(ctx, `SELECT report_json FROM runs WHERE id = ?`, id).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var report model.BatchReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}

	return &report, nil
}

// TileRecord is a stored tile.
type TileRecord struct {
	ID        int64
	RunID     int64
	Slide     string
	Name      string
	Path      string
	Origin    model.Origin
	Scale     float64
	Digest    string
	Timestamp time.Time
}

// TilesByDigest returns every recorded tile whose content has the given digest.
func (c *Catalog) TilesByDigest(ctx context.Context, digest string) ([]TileRecord, error) {
	return c.queryTiles(ctx, `WHERE digest = ? ORDER BY id`, digest)
}

// TilesForRun returns the tiles recorded by a run in insertion order.
func (c *Catalog) TilesForRun(ctx context.Context, runID int64) ([]TileRecord, error) {
	return c.queryTiles(ctx, `WHERE run_id = ? ORDER BY id`, runID)
}

func (c *Catalog) queryTiles(ctx context.Context, where string, args ...any) ([]TileRecord, error) {
	query := `
	SELECT id, run_id, slide, name, path, x, y, scale, digest, timestamp
	FROM tiles
	` + where

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tiles: %w", err)
	}
	defer rows.Close()

	var results []TileRecord
	for rows.Next() {
		var rec TileRecord
		var digest sql.NullString
		var timestamp string

		if err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.Slide,
			&rec.Name,
			&rec.Path,
			&rec.Origin.X,
			&rec.Origin.Y,
			&rec.Scale,
			&digest,
			&timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tile: %w", err)
		}
		rec.Digest = digest.String
		rec.Timestamp = parseTimestamp(timestamp)
		results = append(results, rec)
	}

	return results, rows.Err()
}

// BucketCounts returns how many classified tiles a run stored in each bucket.
func (c *Catalog) BucketCounts(ctx context.Context, runID int64) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx, `
	SELECT bucket, COUNT(*) FROM classifications
	WHERE run_id = ?
	GROUP BY bucket
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count buckets: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var bucket string
		var n int
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, fmt.Errorf("failed to scan bucket count: %w", err)
		}
		counts[bucket] = n
	}

	return counts, rows.Err()
}

// timestampFormats contains the timestamp formats that SQLite may return.
// More specific formats come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999",
}

// parseTimestamp parses a timestamp string using each known format in turn.
// If no format matches it returns the zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
