// Package store provides the embedded SQLite persistence layer for bookmarkd.
//
// The database holds three tables: bookmarks (one row per
// bookmark/folder, soft-deleted in place), sync_events (append-only mutation
// log), and user_versions (the per-user global version ledger).
//
// Every mutating call runs as a single IMMEDIATE transaction covering the
// bookmark row write, the ledger bump, and the event append. Two concurrent
// updates asserting the same expectedVersion therefore cannot both succeed:
// the second writer re-reads the row inside its own transaction and sees the
// bumped version.
//
// The database runs in embedded mode using ncruces/go-sqlite3 with WAL for
// concurrent readers during writes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite database connection.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads and
// an immediate transaction lock so write transactions serialize up front
// instead of failing mid-flight. If the database doesn't exist it is created
// along with the schema.
//
// The caller MUST call Close() when done.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// _txlock=immediate: BEGIN IMMEDIATE for all write transactions, so the
	// read-modify-write version check in each mutation holds the write lock
	// from its first statement.
	connStr := fmt.Sprintf("file:%s?_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:   conn,
		path:   path,
		logger: logger,
	}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// initSchema creates the tables and indexes. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS bookmarks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		parent_id TEXT,
		title TEXT NOT NULL DEFAULT '',
		url TEXT,
		favicon TEXT NOT NULL DEFAULT '',
		is_folder INTEGER NOT NULL DEFAULT 0,
		sort_order INTEGER NOT NULL DEFAULT 0,
		date_added INTEGER NOT NULL,
		date_modified INTEGER NOT NULL,
		sync_version INTEGER NOT NULL DEFAULT 1,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS sync_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		bookmark_id TEXT NOT NULL,
		data TEXT,
		timestamp INTEGER NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		sync_version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_versions (
		user_id TEXT PRIMARY KEY,
		current_version INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_bookmarks_user
	    ON bookmarks(user_id, is_deleted, sort_order);
	CREATE INDEX IF NOT EXISTS idx_bookmarks_parent
	    ON bookmarks(user_id, parent_id);

	CREATE INDEX IF NOT EXISTS idx_events_user_version
	    ON sync_events(user_id, sync_version);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// bumpVersion increments the user's global version inside tx and returns the
// new value. Must be called exactly once per successful mutation.
func bumpVersion(ctx context.Context, tx *sql.Tx, userID string) (int64, error) {
	query := `
	INSERT INTO user_versions (user_id, current_version) VALUES (?, 1)
	ON CONFLICT(user_id) DO UPDATE SET current_version = current_version + 1
	RETURNING current_version
	`
	var version int64
	if err := tx.QueryRowContext(ctx, query, userID).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to bump version for user %s: %w", userID, err)
	}
	return version, nil
}

// CurrentVersion returns the user's global version, 0 if the user has never
// mutated anything.
func (s *Store) CurrentVersion(ctx context.Context, userID string) (int64, error) {
	var version int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT current_version FROM user_versions WHERE user_id = ?`, userID,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}
