package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// The mirror_synced flag tracks per-row replication to the remote store.
// Every write clears it; the mirror sets it after the remote acknowledges.
// These helpers exist for the mirror component only; pipeline phases
// never touch them.

// ListUnsyncedFiles returns up to limit files whose latest state has not
// been acknowledged by the remote mirror, oldest first.
func (s *Store) ListUnsyncedFiles(ctx context.Context, limit int) ([]*MediaFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM media_files
		 WHERE mirror_synced = 0 ORDER BY updated_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing unsynced files: %w", err)
	}
	defer rows.Close()

	return scanFileRows(rows)
}

// ListUnsyncedBatches returns up to limit batches pending replication.
func (s *Store) ListUnsyncedBatches(ctx context.Context, limit int) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches
		 WHERE mirror_synced = 0 ORDER BY created_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing unsynced batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch

	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning unsynced batch: %w", err)
		}

		batches = append(batches, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating unsynced batches: %w", err)
	}

	return batches, nil
}

// ListUnsyncedLogs returns up to limit log entries pending replication,
// oldest first.
func (s *Store) ListUnsyncedLogs(ctx context.Context, limit int) ([]*LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, step, severity, message, file_id, batch_id,
			mirror_synced, created_at
		 FROM logs WHERE mirror_synced = 0 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing unsynced logs: %w", err)
	}
	defer rows.Close()

	return scanLogRows(rows)
}

// MarkFilesMirrored flags files as acknowledged by the remote.
func (s *Store) MarkFilesMirrored(ctx context.Context, ids []string) error {
	return s.markMirrored(ctx, "media_files", "id", stringArgs(ids))
}

// MarkBatchesMirrored flags batches as acknowledged by the remote.
func (s *Store) MarkBatchesMirrored(ctx context.Context, ids []string) error {
	return s.markMirrored(ctx, "batches", "id", stringArgs(ids))
}

// MarkLogsMirrored flags log entries as acknowledged by the remote.
func (s *Store) MarkLogsMirrored(ctx context.Context, ids []int64) error {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	return s.markMirrored(ctx, "logs", "id", args)
}

func (s *Store) markMirrored(ctx context.Context, table, column string, args []any) error {
	if len(args) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?, ", len(args)-1) + "?"

	return s.withWrite(ctx, func(ctx context.Context, tx *sql.Tx) error {
		//nolint:gosec // table and column are compile-time constants
		_, err := tx.ExecContext(ctx,
			`UPDATE `+table+` SET mirror_synced = 1 WHERE `+column+` IN (`+placeholders+`)`,
			args...)
		if err != nil {
			return fmt.Errorf("store: marking %s mirrored: %w", table, err)
		}

		return nil
	})
}

// UnsyncedCounts reports how many rows of each kind still await
// replication. Used by the status command and the end-of-run report.
func (s *Store) UnsyncedCounts(ctx context.Context) (files, batches, logs int64, err error) {
	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM media_files WHERE mirror_synced = 0`, &files},
		{`SELECT COUNT(*) FROM batches WHERE mirror_synced = 0`, &batches},
		{`SELECT COUNT(*) FROM logs WHERE mirror_synced = 0`, &logs},
	}

	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return 0, 0, 0, fmt.Errorf("store: counting unsynced rows: %w", err)
		}
	}

	return files, batches, logs, nil
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	return args
}
