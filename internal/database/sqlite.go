// Package database is the local SQLite side database. It can hold the
// per-directory scan cache in place of the hidden cache files and records
// the history of backup runs.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"treebak/internal/database/migrations"
	"treebak/internal/manifest"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one recorded invocation of a backup, restore or scan.
type Run struct {
	ID         int64
	RunID      string
	Operation  string
	Parameters string
	Manifest   string
	Uploaded   int
	Status     string
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

// SQLiteDatabase wraps a migrated SQLite connection.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLiteDatabase opens the database at path (or ":memory:") and applies
// any pending migrations.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path, now: time.Now}, nil
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the schema depends on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: ":memory:" databases are per connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// Cache returns a manifest.CacheStore backed by this database.
func (s *SQLiteDatabase) Cache() *DirectoryCache {
	return &DirectoryCache{db: s}
}

// Backup run tracking

// CreateRun records the start of an operation.
func (s *SQLiteDatabase) CreateRun(runID, operation, parameters string) (*Run, error) {
	started := s.now().UTC()
	res, err := s.db.ExecContext(context.Background(),
		`INSERT INTO backup_runs (run_id, operation, parameters, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, operation, parameters, StatusRunning, started)
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	return &Run{
		ID:         id,
		RunID:      runID,
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusRunning,
		StartedAt:  started,
	}, nil
}

// FinishRun stamps a run with its outcome.
func (s *SQLiteDatabase) FinishRun(id int64, status, manifestName string, uploaded int) error {
	res, err := s.db.ExecContext(context.Background(),
		`UPDATE backup_runs SET status = ?, manifest = ?, uploaded = ?, finished_at = ? WHERE id = ?`,
		status, manifestName, uploaded, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run: no run with id %d", id)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
func (s *SQLiteDatabase) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT id, run_id, operation, parameters, manifest, uploaded, status, started_at, finished_at
		 FROM backup_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.RunID, &r.Operation, &r.Parameters, &r.Manifest,
			&r.Uploaded, &r.Status, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// FindRun returns the run with the given run id, or nil if there is none.
func (s *SQLiteDatabase) FindRun(runID string) (*Run, error) {
	var r Run
	err := s.db.QueryRowContext(context.Background(),
		`SELECT id, run_id, operation, parameters, manifest, uploaded, status, started_at, finished_at
		 FROM backup_runs WHERE run_id = ?`, runID).
		Scan(&r.ID, &r.RunID, &r.Operation, &r.Parameters, &r.Manifest,
			&r.Uploaded, &r.Status, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding run: %w", err)
	}
	return &r, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a complete copy of the database to destPath using
// VACUUM INTO. destPath must not exist.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DirectoryCache stores scan caches in the cache_directories and
// cache_entries tables.
type DirectoryCache struct {
	db *SQLiteDatabase
}

var _ manifest.CacheStore = (*DirectoryCache)(nil)

// Load returns dir's cached entries in path order.
func (c *DirectoryCache) Load(dir string) ([]manifest.FileEntry, error) {
	ctx := context.Background()

	var updated time.Time
	err := c.db.db.QueryRowContext(ctx,
		`SELECT updated_at FROM cache_directories WHERE path = ?`, dir).Scan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", manifest.ErrNoCache, dir)
		}
		return nil, fmt.Errorf("loading cache for %s: %w", dir, err)
	}

	rows, err := c.db.db.QueryContext(ctx,
		`SELECT path, object_id, owner, grp, mode, ctime, mtime, size
		 FROM cache_entries WHERE directory = ? ORDER BY path`, dir)
	if err != nil {
		return nil, fmt.Errorf("loading cache for %s: %w", dir, err)
	}
	defer rows.Close()

	var entries []manifest.FileEntry
	for rows.Next() {
		var (
			path, objectID string
			stat           manifest.StatInfo
			mode           int64
			size           int64
		)
		if err := rows.Scan(&path, &objectID, &stat.Owner, &stat.Group, &mode, &stat.Ctime, &stat.Mtime, &size); err != nil {
			return nil, fmt.Errorf("scanning cache entry: %w", err)
		}
		stat.Mode = uint32(mode)
		stat.Size = uint64(size)

		e, err := manifest.NewFileEntry(path, objectID, stat)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", manifest.ErrMalformedRecord, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading cache for %s: %w", dir, err)
	}
	return entries, nil
}

// Store replaces dir's cached entries in a single transaction.
func (c *DirectoryCache) Store(dir string, entries []manifest.FileEntry) error {
	ctx := context.Background()

	tx, err := c.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_directories WHERE path = ?`, dir); err != nil {
		return fmt.Errorf("clearing cache for %s: %w", dir, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache_directories (path, updated_at) VALUES (?, ?)`, dir, c.db.now().UTC()); err != nil {
		return fmt.Errorf("recording cache for %s: %w", dir, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cache_entries (directory, path, object_id, owner, grp, mode, ctime, mtime, size)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing cache insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		st := e.StatInfo()
		if _, err := stmt.ExecContext(ctx, dir, e.Path(), e.ObjectID(),
			st.Owner, st.Group, int64(st.Mode), st.Ctime, st.Mtime, int64(st.Size)); err != nil {
			return fmt.Errorf("caching %s: %w", e.Path(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
