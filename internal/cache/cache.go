// Package cache mirrors the results document into an embedded SQLite
// database for fast filtered queries.
//
// The JSON document stays the source of truth. The cache is rebuilt from it
// wholesale after every cycle that changes the dataset, and can be deleted
// at any time.
//
// Architecture:
//   - Database file: configured by cache.path
//   - WAL mode: concurrent readers (dashboard, status) during rebuilds
//   - Schema: results table plus a small cache_meta key/value table
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/typesync/typesync/internal/results"
)

const metaLastSynced = "last_synced_at"

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the cache database at path.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	cache, err := cache.Open("typesync-cache.db")
//	if err != nil {
//	    return err
//	}
//	defer cache.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection after a WAL checkpoint.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,       -- position in the document
		timestamp INTEGER NOT NULL, -- unix milliseconds
		wpm REAL,
		acc REAL,
		language TEXT,
		mode TEXT,
		raw TEXT NOT NULL           -- full record JSON
	);

	CREATE TABLE IF NOT EXISTS cache_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_timestamp ON results(timestamp, seq);
	CREATE INDEX IF NOT EXISTS idx_results_language ON results(language);
	CREATE INDEX IF NOT EXISTS idx_results_wpm ON results(wpm);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// ReplaceAll replaces the cached dataset with records in one transaction.
// Readers see either the old or the new dataset.
func (db *DB) ReplaceAll(ctx context.Context, records []results.Record) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM results`); err != nil {
		return fmt.Errorf("failed to clear results: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO results (id, seq, timestamp, wpm, acc, language, mode, raw)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		seq = excluded.seq,
		timestamp = excluded.timestamp,
		wpm = excluded.wpm,
		acc = excluded.acc,
		language = excluded.language,
		mode = excluded.mode,
		raw = excluded.raw
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.ID,
			i,
			r.Timestamp,
			r.WPM(),
			r.Accuracy(),
			nullString(r.Language()),
			nullString(r.Mode()),
			string(r.Raw()),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result %s: %w", r.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO cache_meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaLastSynced, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record sync time: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Count returns the number of cached results.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return n, nil
}

// LatestTimestamp returns the newest cached timestamp, or 0 when empty.
func (db *DB) LatestTimestamp(ctx context.Context) (int64, error) {
	var ts sql.NullInt64
	if err := db.conn.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM results`).Scan(&ts); err != nil {
		return 0, fmt.Errorf("failed to query latest timestamp: %w", err)
	}
	return ts.Int64, nil
}

// LastSynced returns when ReplaceAll last committed. ok is false if never.
func (db *DB) LastSynced(ctx context.Context) (t time.Time, ok bool, err error) {
	var value string
	err = db.conn.QueryRowContext(ctx, `SELECT value FROM cache_meta WHERE key = ?`, metaLastSynced).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query sync time: %w", err)
	}
	t, err = time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid sync time %q: %w", value, err)
	}
	return t, true, nil
}

// PersonalBest returns the fastest cached result. Ties go to the earlier
// result. ok is false when the cache is empty.
func (db *DB) PersonalBest(ctx context.Context) (rec results.Record, ok bool, err error) {
	var raw string
	err = db.conn.QueryRowContext(ctx, `
	SELECT raw FROM results
	ORDER BY wpm DESC, timestamp ASC, seq ASC
	LIMIT 1
	`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return results.Record{}, false, nil
	}
	if err != nil {
		return results.Record{}, false, fmt.Errorf("failed to query personal best: %w", err)
	}

	rec, err = results.Parse([]byte(raw))
	if err != nil {
		return results.Record{}, false, fmt.Errorf("invalid cached record: %w", err)
	}
	return rec, true, nil
}

// Filter holds options for List.
type Filter struct {
	// Since keeps results at or after this unix-millisecond timestamp (0 = all)
	Since int64
	// Language filters by exact language (empty = all languages)
	Language string
	// Limit keeps only the most recent N results (0 = no limit)
	Limit int
}

// List returns cached results matching filter, ascending by timestamp in
// document order.
func (db *DB) List(ctx context.Context, filter Filter) ([]results.Record, error) {
	var conditions []string
	var args []interface{}

	if filter.Since > 0 {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if filter.Language != "" {
		conditions = append(conditions, "language = ?")
		args = append(args, filter.Language)
	}

	query := `SELECT raw, timestamp, seq FROM results`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	if filter.Limit > 0 {
		// Take the newest N, then restore ascending order.
		query = `SELECT raw FROM (` + query + ` ORDER BY timestamp DESC, seq DESC LIMIT ?) ORDER BY timestamp ASC, seq ASC`
		args = append(args, filter.Limit)
	} else {
		query = `SELECT raw FROM (` + query + `) ORDER BY timestamp ASC, seq ASC`
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var out []results.Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		rec, err := results.Parse([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid cached record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate results: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
