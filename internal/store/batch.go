package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// BatchStatus is a batch's position in its lifecycle.
type BatchStatus string

// Batch lifecycle statuses.
const (
	BatchCreated   BatchStatus = "created"
	BatchUploading BatchStatus = "uploading"
	BatchUploaded  BatchStatus = "uploaded"
	BatchVerified  BatchStatus = "verified"
	BatchError     BatchStatus = "error"
)

// batchTransitions maps each batch status to its allowed prior statuses.
// error -> uploading reopens a failed shipment whose members are still
// waiting; uploaders drive it through ListResumableBatches.
var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchUploading: {BatchCreated, BatchError},
	BatchUploaded:  {BatchUploading},
	BatchVerified:  {BatchUploaded},
	BatchError:     {BatchUploading, BatchUploaded},
}

// Destination tags an upload target.
type Destination string

// Upload destinations.
const (
	DestICloud Destination = "icloud"
	DestPixel  Destination = "pixel"
)

// Batch is one shipment of staged files to a single destination. TotalSize
// and FileCount are fixed at creation from the members; CompletedAt is set
// when the batch reaches verified.
type Batch struct {
	ID           string
	Destination  Destination
	Status       BatchStatus
	TotalSize    int64
	FileCount    int
	ErrorMsg     string
	MirrorSynced bool
	CreatedAt    int64
	CompletedAt  int64
}

const batchColumns = `id, destination, status, total_size, file_count,
	error_msg, mirror_synced, created_at, completed_at`

// scanBatch scans a full batches row.
func scanBatch(row interface{ Scan(...any) error }) (*Batch, error) {
	var (
		b         Batch
		completed sql.NullInt64
		mirrored  int
	)

	err := row.Scan(
		&b.ID, &b.Destination, &b.Status, &b.TotalSize, &b.FileCount,
		&b.ErrorMsg, &mirrored, &b.CreatedAt, &completed,
	)
	if err != nil {
		return nil, err
	}

	b.CompletedAt = completed.Int64
	b.MirrorSynced = mirrored == 1

	return &b, nil
}

// CreateBatch atomically records a new batch for dest: it inserts the batch
// row, links every member, transitions each member compressed -> batched,
// and points each member's batch_id at the new batch. Any member not at
// compressed aborts the whole transaction, so a crash can never leave a
// half-linked batch behind. TotalSize and FileCount are computed from the
// members' recorded sizes.
func (s *Store) CreateBatch(ctx context.Context, dest Destination, memberIDs []string) (*Batch, error) {
	if len(memberIDs) == 0 {
		return nil, fmt.Errorf("store: creating batch for %s: no members", dest)
	}

	b := &Batch{
		ID:          uuid.NewString(),
		Destination: dest,
		Status:      BatchCreated,
	}

	err := s.withWrite(ctx, func(ctx context.Context, tx *sql.Tx) error {
		b.CreatedAt = s.now()

		if err := s.sumMembers(ctx, tx, b, memberIDs); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO batches
				(id, destination, status, total_size, file_count, error_msg,
				 mirror_synced, created_at, completed_at)
			 VALUES (?, ?, ?, ?, ?, '', 0, ?, NULL)`,
			b.ID, string(b.Destination), string(b.Status),
			b.TotalSize, b.FileCount, b.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("store: inserting batch %s: %w", b.ID, err)
		}

		memberStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO batch_members (batch_id, file_id) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("store: preparing batch member insert: %w", err)
		}
		defer memberStmt.Close()

		batchID := b.ID

		for _, fileID := range memberIDs {
			if _, err := memberStmt.ExecContext(ctx, b.ID, fileID); err != nil {
				return fmt.Errorf("store: linking file %s to batch %s: %w", fileID, b.ID, err)
			}

			err := s.updateFileStatusTx(ctx, tx, fileID, StatusBatched,
				allowedFrom(StatusBatched), FileFields{BatchID: &batchID})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.feed.publish(Change{Kind: ChangeBatch, Batch: b})

	for _, fileID := range memberIDs {
		s.publishFile(ctx, fileID)
	}

	s.logger.Info("batch created",
		slog.String("id", b.ID),
		slog.String("destination", string(dest)),
		slog.Int("files", b.FileCount),
		slog.Int64("bytes", b.TotalSize),
	)

	return b, nil
}

// AttachBatch records an additional batch over files that are already
// batched for another destination. Membership and counts are written like
// CreateBatch, but member statuses are untouched; only batch_id moves to
// the newest batch. Any member not at batched (or beyond, for re-staging
// after a partial upload) aborts the transaction.
func (s *Store) AttachBatch(ctx context.Context, dest Destination, memberIDs []string) (*Batch, error) {
	if len(memberIDs) == 0 {
		return nil, fmt.Errorf("store: attaching batch for %s: no members", dest)
	}

	b := &Batch{
		ID:          uuid.NewString(),
		Destination: dest,
		Status:      BatchCreated,
	}

	err := s.withWrite(ctx, func(ctx context.Context, tx *sql.Tx) error {
		b.CreatedAt = s.now()

		if err := s.sumMembers(ctx, tx, b, memberIDs); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO batches
				(id, destination, status, total_size, file_count, error_msg,
				 mirror_synced, created_at, completed_at)
			 VALUES (?, ?, ?, ?, ?, '', 0, ?, NULL)`,
			b.ID, string(b.Destination), string(b.Status),
			b.TotalSize, b.FileCount, b.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("store: inserting batch %s: %w", b.ID, err)
		}

		for _, fileID := range memberIDs {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO batch_members (batch_id, file_id) VALUES (?, ?)`,
				b.ID, fileID)
			if err != nil {
				return fmt.Errorf("store: linking file %s to batch %s: %w", fileID, b.ID, err)
			}

			result, err := tx.ExecContext(ctx,
				`UPDATE media_files SET batch_id = ?, mirror_synced = 0, updated_at = ?
				 WHERE id = ? AND status IN (?, ?)`,
				b.ID, s.now(), fileID, string(StatusBatched), string(StatusUploaded))
			if err != nil {
				return fmt.Errorf("store: attaching file %s to batch %s: %w", fileID, b.ID, err)
			}

			rows, rowsErr := result.RowsAffected()
			if rowsErr != nil {
				return fmt.Errorf("store: attach file %s rows affected: %w", fileID, rowsErr)
			}

			if rows == 0 {
				return s.explainMiss(ctx, tx, fileID, StatusBatched)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.feed.publish(Change{Kind: ChangeBatch, Batch: b})

	for _, fileID := range memberIDs {
		s.publishFile(ctx, fileID)
	}

	s.logger.Info("batch attached",
		slog.String("id", b.ID),
		slog.String("destination", string(dest)),
		slog.Int("files", b.FileCount),
	)

	return b, nil
}

// sumMembers fills TotalSize and FileCount from the member rows, verifying
// every requested ID exists.
func (s *Store) sumMembers(ctx context.Context, tx *sql.Tx, b *Batch, memberIDs []string) error {
	placeholders := strings.Repeat("?, ", len(memberIDs)-1) + "?"
	args := make([]any, len(memberIDs))

	for i, id := range memberIDs {
		args[i] = id
	}

	var count int

	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM media_files
		 WHERE id IN (`+placeholders+`)`, args...).Scan(&count, &b.TotalSize)
	if err != nil {
		return fmt.Errorf("store: summing batch members: %w", err)
	}

	if count != len(memberIDs) {
		return fmt.Errorf("%w: %d of %d batch members", ErrNotFound, len(memberIDs)-count, len(memberIDs))
	}

	b.FileCount = count

	return nil
}

// SetBatchStatus transitions a batch, enforcing the batch lifecycle.
// Entering verified stamps completed_at; entering error records msg.
func (s *Store) SetBatchStatus(ctx context.Context, id string, next BatchStatus, msg string) error {
	allowed, ok := batchTransitions[next]
	if !ok {
		return fmt.Errorf("%w: no path to batch status %q", ErrInvalidTransition, next)
	}

	err := s.withWrite(ctx, func(ctx context.Context, tx *sql.Tx) error {
		set := []string{"status = ?", "mirror_synced = 0"}
		args := []any{string(next)}

		if next == BatchVerified {
			set = append(set, "completed_at = ?")
			args = append(args, s.now())
		}

		if next == BatchError {
			set = append(set, "error_msg = ?")
			args = append(args, msg)
		}

		placeholders := strings.Repeat("?, ", len(allowed)-1) + "?"
		query := `UPDATE batches SET ` + strings.Join(set, ", ") +
			` WHERE id = ? AND status IN (` + placeholders + `)`

		args = append(args, id)
		for _, a := range allowed {
			args = append(args, string(a))
		}

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("store: updating batch %s to %s: %w", id, next, err)
		}

		rows, rowsErr := result.RowsAffected()
		if rowsErr != nil {
			return fmt.Errorf("store: batch %s rows affected: %w", id, rowsErr)
		}

		if rows == 0 {
			return s.explainBatchMiss(ctx, tx, id, next)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.publishBatch(ctx, id)

	return nil
}

// explainBatchMiss distinguishes a missing batch from an illegal transition.
func (s *Store) explainBatchMiss(ctx context.Context, tx *sql.Tx, id string, next BatchStatus) error {
	var current string

	err := tx.QueryRowContext(ctx,
		`SELECT status FROM batches WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: batch %s", ErrNotFound, id)
	}

	if err != nil {
		return fmt.Errorf("store: reading batch %s status: %w", id, err)
	}

	return fmt.Errorf("%w: batch %s is %s, cannot become %s",
		ErrInvalidTransition, id, current, next)
}

// GetBatch returns a batch by ID, or (nil, nil) when no such row exists.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	b, err := scanBatch(s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil batch means "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("store: getting batch %s: %w", id, err)
	}

	return b, nil
}

// ListBatchesByStatus returns batches at the given status for one
// destination, oldest first. An empty dest matches both destinations.
func (s *Store) ListBatchesByStatus(ctx context.Context, dest Destination, status BatchStatus) ([]*Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE status = ?`
	args := []any{string(status)}

	if dest != "" {
		query += ` AND destination = ?`
		args = append(args, string(dest))
	}

	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing %s batches at %s: %w", dest, status, err)
	}
	defer rows.Close()

	var batches []*Batch

	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning batch row: %w", err)
		}

		batches = append(batches, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating batch rows: %w", err)
	}

	return batches, nil
}

// ListResumableBatches returns the destination's unfinished shipments,
// oldest first: created batches, uploading batches left behind by an
// interrupted run, and error batches that still have members waiting at
// batched. An error batch with no batched members is terminal; its failed
// files come back through reset-file and a fresh batch.
func (s *Store) ListResumableBatches(ctx context.Context, dest Destination) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches
		 WHERE destination = ?
		   AND (status IN (?, ?)
		        OR (status = ? AND EXISTS (
		            SELECT 1 FROM batch_members bm
		            JOIN media_files f ON f.id = bm.file_id
		            WHERE bm.batch_id = batches.id AND f.status = ?)))
		 ORDER BY created_at, id`,
		string(dest), string(BatchCreated), string(BatchUploading),
		string(BatchError), string(StatusBatched))
	if err != nil {
		return nil, fmt.Errorf("store: listing resumable %s batches: %w", dest, err)
	}
	defer rows.Close()

	var batches []*Batch

	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning batch row: %w", err)
		}

		batches = append(batches, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating batch rows: %w", err)
	}

	return batches, nil
}

// publishBatch emits the current batch state onto the change feed.
func (s *Store) publishBatch(ctx context.Context, id string) {
	b, err := s.GetBatch(ctx, id)
	if err != nil || b == nil {
		s.logger.Warn("change feed: could not load batch after write",
			slog.String("id", id), slog.Any("error", err))
		return
	}

	s.feed.publish(Change{Kind: ChangeBatch, Batch: b})
}
