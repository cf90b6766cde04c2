// Package store implements the authoritative metadata store for the media
// pipeline: an embedded SQLite database holding media files, batches,
// duplicate links, and the append-only event log. All pipeline decisions
// read from this store; the remote mirror replicates from its change feed
// and is never consulted for decisions.
//
// The store follows a single-writer discipline: every mutation runs inside
// withWrite, which serializes writers on an internal lock and opens one
// transaction. A nested write from within a write transaction is a
// programming error and fails with ErrReentrant. Readers run concurrently
// against the same connection; SetMaxOpenConns(1) plus WAL keeps SQLite
// consistent under that mix.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Sentinel errors. Callers match with errors.Is.
var (
	// ErrSchema means the on-disk schema cannot be migrated to the current
	// version. Fatal at startup.
	ErrSchema = errors.New("store: incompatible schema")

	// ErrReentrant means a write was attempted from inside another write
	// transaction. Programmer error, never retried.
	ErrReentrant = errors.New("store: nested write transaction")

	// ErrNotFound means the row addressed by ID does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidTransition means a status update violated the lifecycle
	// state machine (the row was not at an allowed prior status).
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// Store is the authoritative local metadata store. Open one per process;
// it is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// writeMu serializes write transactions (single-writer discipline).
	writeMu sync.Mutex

	// nowFunc is injectable for deterministic tests.
	nowFunc func() time.Time

	feed *changeFeed
}

// Open opens (creating if needed) the SQLite database at dbPath, applies
// pending schema migrations, and returns a ready Store. Use ":memory:" for
// tests. Migration failures are reported as ErrSchema.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("metadata store ready", slog.String("db_path", dbPath))

	return &Store{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
		feed:    newChangeFeed(logger),
	}, nil
}

// Close shuts the change feed and the database connection.
func (s *Store) Close() error {
	s.feed.close()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}

	return nil
}

// now returns the current time in unix nanoseconds.
func (s *Store) now() int64 {
	return s.nowFunc().UnixNano()
}

// writeMarker tags a context as being inside a write transaction so that
// nested writes can be rejected with ErrReentrant.
type writeMarkerKey struct{}

// withWrite runs fn inside the store's single write transaction. The
// context passed to fn carries the write marker; any store write entered
// with that context fails with ErrReentrant instead of deadlocking on the
// writer lock.
func (s *Store) withWrite(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if ctx.Value(writeMarkerKey{}) != nil {
		return ErrReentrant
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx = context.WithValue(ctx, writeMarkerKey{}, struct{}{})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning write transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing write transaction: %w", err)
	}

	return nil
}

// nullString converts an empty string to NULL for optional TEXT columns.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullInt64 converts a zero value to NULL for optional INTEGER columns.
func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

// nullFloat64 converts a zero value to NULL for optional REAL columns.
func nullFloat64(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: f != 0}
}

// boolToInt converts a bool to the 0/1 INTEGER representation.
func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
