package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Severity classifies a pipeline log entry.
type Severity string

// Log severities.
const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEntry is one append-only pipeline event. IDs are assigned by the
// database and strictly increase. FileID and BatchID are optional
// references to the rows the event concerns.
type LogEntry struct {
	ID           int64
	Step         string
	Severity     Severity
	Message      string
	FileID       string
	BatchID      string
	MirrorSynced bool
	CreatedAt    int64
}

// AppendLog writes one event to the log table and returns its assigned ID.
// Entries are never updated; retention pruning is the only deletion path.
func (s *Store) AppendLog(ctx context.Context, entry *LogEntry) (int64, error) {
	err := s.withWrite(ctx, func(ctx context.Context, tx *sql.Tx) error {
		entry.CreatedAt = s.now()

		result, err := tx.ExecContext(ctx,
			`INSERT INTO logs
				(step, severity, message, file_id, batch_id, mirror_synced, created_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?)`,
			entry.Step, string(entry.Severity), entry.Message,
			nullString(entry.FileID), nullString(entry.BatchID), entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("store: appending log for step %s: %w", entry.Step, err)
		}

		id, idErr := result.LastInsertId()
		if idErr != nil {
			return fmt.Errorf("store: log last insert ID: %w", idErr)
		}

		entry.ID = id

		return nil
	})
	if err != nil {
		return 0, err
	}

	s.feed.publish(Change{Kind: ChangeLog, Log: entry})

	return entry.ID, nil
}

// ListLogs returns up to limit recent entries for a step (empty step
// matches all), newest first.
func (s *Store) ListLogs(ctx context.Context, step string, limit int) ([]*LogEntry, error) {
	query := `SELECT id, step, severity, message, file_id, batch_id,
		mirror_synced, created_at FROM logs`
	args := []any{}

	if step != "" {
		query += ` WHERE step = ?`
		args = append(args, step)
	}

	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing logs: %w", err)
	}
	defer rows.Close()

	return scanLogRows(rows)
}

// scanLogRows collects LogEntries from a result set.
func scanLogRows(rows *sql.Rows) ([]*LogEntry, error) {
	var entries []*LogEntry

	for rows.Next() {
		var (
			e        LogEntry
			fileID   sql.NullString
			batchID  sql.NullString
			mirrored int
		)

		err := rows.Scan(&e.ID, &e.Step, &e.Severity, &e.Message,
			&fileID, &batchID, &mirrored, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("store: scanning log row: %w", err)
		}

		e.FileID = fileID.String
		e.BatchID = batchID.String
		e.MirrorSynced = mirrored == 1

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating log rows: %w", err)
	}

	return entries, nil
}

// retentionHoursPerDay converts days to hours for duration calculation.
const retentionHoursPerDay = 24

// PruneLogs removes entries older than retentionDays. Returns the number
// of rows deleted.
func (s *Store) PruneLogs(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := s.nowFunc().Add(
		-time.Duration(retentionDays) * retentionHoursPerDay * time.Hour,
	).UnixNano()

	var deleted int64

	err := s.withWrite(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM logs WHERE created_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("store: pruning logs: %w", err)
		}

		n, rowsErr := result.RowsAffected()
		if rowsErr != nil {
			return fmt.Errorf("store: prune logs rows affected: %w", rowsErr)
		}

		deleted = n

		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("log retention pruning complete",
		slog.Int64("deleted", deleted),
		slog.Int("retention_days", retentionDays),
	)

	return deleted, nil
}
