package database

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

	"github.com/tkytel/mandala/internal/model"
)

// FileName is the name of the database file inside the data directory.
const FileName = "mandala.db"

// timestampLayout is a fixed-width UTC layout so that stored crawl times
// sort lexically in chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Failure kinds stored in the fetch_failures table.
const (
	FailureKindFetch     = "fetch"
	FailureKindDiscarded = "discarded"
)

// CrawlDB stores crawl reports in SQLite so that crawls of the same seed
// can be compared over time.
type CrawlDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a CrawlDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a missing file, mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

func (cdb *CrawlDB) createTables() error {
	schema := `
	-- One row per finished crawl; the full report is kept as JSON
	CREATE TABLE IF NOT EXISTS crawls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seed_url TEXT NOT NULL,
		crawled_at TEXT NOT NULL,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		documents INTEGER NOT NULL DEFAULT 0,
		pbxs INTEGER NOT NULL DEFAULT 0,
		extensions INTEGER NOT NULL DEFAULT 0,
		truncated INTEGER NOT NULL DEFAULT 0,
		report_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_crawls_seed ON crawls(seed_url);
	CREATE INDEX IF NOT EXISTS idx_crawls_crawled_at ON crawls(crawled_at);

	-- Descriptors that could not be fetched or had no identity
	CREATE TABLE IF NOT EXISTS fetch_failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		crawl_id INTEGER NOT NULL REFERENCES crawls(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		depth INTEGER NOT NULL,
		kind TEXT NOT NULL,
		reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_failures_crawl ON fetch_failures(crawl_id);
	CREATE INDEX IF NOT EXISTS idx_failures_url ON fetch_failures(url);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// SaveCrawl stores a crawl report and its failures in one transaction and
// returns the new crawl id.
func (cdb *CrawlDB) SaveCrawl(ctx context.Context, report *model.CrawlReport) (int64, error) {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize report: %w", err)
	}

	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // no-op after commit

	result, err := tx.ExecContext(ctx, `
	INSERT INTO crawls (seed_url, crawled_at, elapsed_ms, documents, pbxs, extensions, truncated, report_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.SeedURL,
		report.DateCrawled.UTC().Format(timestampLayout),
		report.Elapsed.Milliseconds(),
		report.Statistics.Documents,
		report.Statistics.PBXs,
		report.Statistics.Extensions,
		report.Truncated,
		string(reportJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert crawl: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get crawl id: %w", err)
	}

	insert := func(kind string, failures []model.FetchFailure) error {
		for _, f := range failures {
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO fetch_failures (crawl_id, url, depth, kind, reason)
			VALUES (?, ?, ?, ?, ?)
			`, id, f.URL, f.Depth, kind, f.Reason); err != nil {
				return fmt.Errorf("failed to insert fetch failure: %w", err)
			}
		}
		return nil
	}
	if err := insert(FailureKindFetch, report.Failures); err != nil {
		return 0, err
	}
	if err := insert(FailureKindDiscarded, report.Discarded); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit crawl: %w", err)
	}
	return id, nil
}

// GetLatestCrawls returns up to limit reports for seedURL, newest first.
func (cdb *CrawlDB) GetLatestCrawls(ctx context.Context, seedURL string, limit int) ([]*model.CrawlReport, error) {
	query := `
	SELECT report_json FROM crawls
	WHERE seed_url = ?
	ORDER BY crawled_at DESC, id DESC
	LIMIT ?
	`

	rows, err := cdb.db.QueryContext(ctx, query, seedURL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest crawls: %w", err)
	}
	defer rows.Close()

	var reports []*model.CrawlReport
	for rows.Next() {
		var reportJSON string
		if err := rows.Scan(&reportJSON); err != nil {
			return nil, fmt.Errorf("failed to scan crawl: %w", err)
		}

		var report model.CrawlReport
		if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
			continue // Skip malformed reports
		}
		reports = append(reports, &report)
	}

	return reports, rows.Err()
}

// GetCrawlByID retrieves a crawl report by its database id.
// It returns nil, nil when no such crawl exists.
func (cdb *CrawlDB) GetCrawlByID(ctx context.Context, id int64) (*model.CrawlReport, error) {
	var reportJSON string
	err := cdb.db.QueryRowContext(ctx, `SELECT report_json FROM crawls WHERE id = ?`, id).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl: %w", err)
	}

	var report model.CrawlReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}

	return &report, nil
}

// ListSeeds returns every seed URL that has at least one stored crawl.
func (cdb *CrawlDB) ListSeeds(ctx context.Context) ([]string, error) {
	rows, err := cdb.db.QueryContext(ctx, `SELECT DISTINCT seed_url FROM crawls ORDER BY seed_url`)
	if err != nil {
		return nil, fmt.Errorf("failed to list seeds: %w", err)
	}
	defer rows.Close()

	var seeds []string
	for rows.Next() {
		var seed string
		if err := rows.Scan(&seed); err != nil {
			return nil, fmt.Errorf("failed to scan seed: %w", err)
		}
		seeds = append(seeds, seed)
	}

	return seeds, rows.Err()
}

// CrawlMetadata summarises a stored crawl without loading its graph.
type CrawlMetadata struct {
	// ID is the unique identifier of the crawl in the database.
	ID int64

	// SeedURL is the crawled seed.
	SeedURL string

	// Timestamp is when the crawl started.
	Timestamp time.Time

	// Elapsed is how long the crawl took.
	Elapsed time.Duration

	// Statistics are the crawl counters.
	Statistics model.Statistics

	// Truncated is true when a budget stopped the crawl.
	Truncated bool

	// Failures counts fetch failures and discarded descriptors.
	Failures int
}

// GetCrawlHistory returns metadata of every crawl of seedURL, newest first.
func (cdb *CrawlDB) GetCrawlHistory(ctx context.Context, seedURL string) ([]CrawlMetadata, error) {
	query := `
	SELECT c.id, c.seed_url, c.crawled_at, c.elapsed_ms, c.documents, c.pbxs, c.extensions, c.truncated,
		(SELECT COUNT(*) FROM fetch_failures f WHERE f.crawl_id = c.id)
	FROM crawls c
	WHERE c.seed_url = ?
	ORDER BY c.crawled_at DESC, c.id DESC
	`

	rows, err := cdb.db.QueryContext(ctx, query, seedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl history: %w", err)
	}
	defer rows.Close()

	var results []CrawlMetadata
	for rows.Next() {
		var (
			meta      CrawlMetadata
			timestamp string
			elapsedMS int64
		)
		if err := rows.Scan(
			&meta.ID,
			&meta.SeedURL,
			&timestamp,
			&elapsedMS,
			&meta.Statistics.Documents,
			&meta.Statistics.PBXs,
			&meta.Statistics.Extensions,
			&meta.Truncated,
			&meta.Failures,
		); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		meta.Timestamp = parseTimestamp(timestamp)
		meta.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		results = append(results, meta)
	}

	return results, rows.Err()
}

// FailureRecord is one stored fetch failure.
type FailureRecord struct {
	CrawlID int64
	URL     string
	Depth   int
	Kind    string
	Reason  string
}

// GetFailures returns the failures recorded for a crawl in insertion order.
func (cdb *CrawlDB) GetFailures(ctx context.Context, crawlID int64) ([]FailureRecord, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT crawl_id, url, depth, kind, reason FROM fetch_failures
	WHERE crawl_id = ?
	ORDER BY id
	`, crawlID)
	if err != nil {
		return nil, fmt.Errorf("failed to get failures: %w", err)
	}
	defer rows.Close()

	var records []FailureRecord
	for rows.Next() {
		var (
			rec    FailureRecord
			reason sql.NullString
		)
		if err := rows.Scan(&rec.CrawlID, &rec.URL, &rec.Depth, &rec.Kind, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		rec.Reason = reason.String
		records = append(records, rec)
	}

	return records, rows.Err()
}

// timestampFormats contains the timestamp formats that may be stored.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	timestampLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
