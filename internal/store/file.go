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

// FileStatus is a media file's position in the pipeline lifecycle.
type FileStatus string

// File lifecycle statuses. Transitions are one-way; error is terminal and
// cleared only by ResetFile.
const (
	StatusDownloaded   FileStatus = "downloaded"
	StatusDeduplicated FileStatus = "deduplicated"
	StatusCompressed   FileStatus = "compressed"
	StatusBatched      FileStatus = "batched"
	StatusUploaded     FileStatus = "uploaded"
	StatusVerified     FileStatus = "verified"
	StatusError        FileStatus = "error"
)

// fileTransitions maps each status to the statuses it may be entered from.
// StatusError is special-cased in allowedFrom (reachable from every
// non-terminal status); StatusDownloaded is only re-entered via ResetFile.
var fileTransitions = map[FileStatus][]FileStatus{
	StatusDeduplicated: {StatusDownloaded},
	StatusCompressed:   {StatusDeduplicated},
	StatusBatched:      {StatusCompressed},
	StatusUploaded:     {StatusBatched},
	StatusVerified:     {StatusUploaded},
}

// allowedFrom returns the statuses from which next may be entered.
func allowedFrom(next FileStatus) []FileStatus {
	if next == StatusError {
		return []FileStatus{
			StatusDownloaded, StatusDeduplicated, StatusCompressed,
			StatusBatched, StatusUploaded,
		}
	}

	return fileTransitions[next]
}

// SourceType tags which ingest adapter produced a file.
type SourceType string

// Ingest adapter tags.
const (
	SourceICloud SourceType = "icloud"
	SourceFolder SourceType = "folder"
)

// MediaFile is one tracked asset. Path follows the original copy through
// the tree (originals, cleanup for quarantined duplicates, sorted after
// archival); CompressedPath points at the recompressed artifact once C7 has
// produced one. Timestamps are unix nanoseconds; zero means unset.
type MediaFile struct {
	ID               string
	Filename         string
	Path             string
	SourcePath       string
	SourceType       SourceType
	Size             int64
	Hash             string
	CompressionRatio float64
	CompressedPath   string
	IsDuplicate      bool
	Status           FileStatus
	BatchID          string
	ErrorMsg         string
	CaptureDate      int64
	MirrorSynced     bool
	CreatedAt        int64
	ProcessedAt      int64
	UpdatedAt        int64
}

// fileColumns is the column list shared by all media_files queries.
const fileColumns = `id, filename, path, source_path, source_type, size,
	hash, compression_ratio, compressed_path, is_duplicate, status, batch_id,
	error_msg, capture_date, mirror_synced, created_at, processed_at, updated_at`

// scanFile scans a full media_files row, handling nullable columns.
func scanFile(row interface{ Scan(...any) error }) (*MediaFile, error) {
	var (
		f          MediaFile
		ratio      sql.NullFloat64
		compressed sql.NullString
		batchID    sql.NullString
		capture    sql.NullInt64
		processed  sql.NullInt64
		isDup      int
		mirrored   int
	)

	err := row.Scan(
		&f.ID, &f.Filename, &f.Path, &f.SourcePath, &f.SourceType, &f.Size,
		&f.Hash, &ratio, &compressed, &isDup, &f.Status, &batchID,
		&f.ErrorMsg, &capture, &mirrored, &f.CreatedAt, &processed, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.CompressionRatio = ratio.Float64
	f.CompressedPath = compressed.String
	f.BatchID = batchID.String
	f.CaptureDate = capture.Int64
	f.ProcessedAt = processed.Int64
	f.IsDuplicate = isDup == 1
	f.MirrorSynced = mirrored == 1

	return &f, nil
}

// scanFileRows collects MediaFiles from a result set.
func scanFileRows(rows *sql.Rows) ([]*MediaFile, error) {
	var files []*MediaFile

	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning media file row: %w", err)
		}

		files = append(files, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating media file rows: %w", err)
	}

	return files, nil
}

// UpsertFile registers a discovered file. Idempotent on
// (source_path, filename): re-registering the same source file returns the
// existing row's ID and touches nothing else, so re-running ingest after a
// crash never resets pipeline progress. Returns the file's ID.
func (s *Store) UpsertFile(ctx context.Context, f *MediaFile) (string, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	if f.Status == "" {
		f.Status = StatusDownloaded
	}

	var (
		id       string
		inserted bool
	)

	err := s.withWrite(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Existing row wins: discovery must not clobber pipeline progress.
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM media_files WHERE source_path = ? AND filename = ?`,
			f.SourcePath, f.Filename).Scan(&id)

		if err == nil {
			return nil
		}

		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("store: checking existing file %s: %w", f.SourcePath, err)
		}

		now := s.now()
		f.CreatedAt = now
		f.UpdatedAt = now

		_, err = tx.ExecContext(ctx,
			`INSERT INTO media_files
				(id, filename, path, source_path, source_type, size, hash,
				 compression_ratio, compressed_path, is_duplicate, status,
				 batch_id, error_msg, capture_date, mirror_synced,
				 created_at, processed_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
			f.ID, f.Filename, f.Path, f.SourcePath, string(f.SourceType),
			f.Size, f.Hash, nullFloat64(f.CompressionRatio),
			nullString(f.CompressedPath), boolToInt(f.IsDuplicate),
			string(f.Status), nullString(f.BatchID), f.ErrorMsg,
			nullInt64(f.CaptureDate), f.CreatedAt, nullInt64(f.ProcessedAt),
			f.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("store: inserting file %s: %w", f.Filename, err)
		}

		id = f.ID
		inserted = true

		return nil
	})
	if err != nil {
		return "", err
	}

	if inserted {
		s.feed.publish(Change{Kind: ChangeFile, File: f})
		s.logger.Debug("file registered",
			slog.String("id", id),
			slog.String("filename", f.Filename),
			slog.String("source", string(f.SourceType)),
		)
	}

	return id, nil
}

// FileFields carries the optional column updates accompanying a status
// transition. Nil pointers leave the column untouched.
type FileFields struct {
	Hash             *string
	CompressionRatio *float64
	CompressedPath   *string
	Path             *string
	BatchID          *string
	CaptureDate      *int64
	ErrorMsg         *string
	ProcessedAt      *int64
	IsDuplicate      *bool
}

// UpdateFileStatus transitions a file to next, applying any extra fields in
// the same write. The lifecycle machine is enforced in SQL: the update only
// lands when the row sits at an allowed prior status, and a miss is
// reported as ErrInvalidTransition (or ErrNotFound when the row does not
// exist). Every successful transition resets mirror_synced.
func (s *Store) UpdateFileStatus(ctx context.Context, id string, next FileStatus, fields FileFields) error {
	allowed := allowedFrom(next)
	if len(allowed) == 0 {
		return fmt.Errorf("%w: no path to status %q", ErrInvalidTransition, next)
	}

	err := s.withWrite(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.updateFileStatusTx(ctx, tx, id, next, allowed, fields)
	})
	if err != nil {
		return err
	}

	s.publishFile(ctx, id)

	return nil
}

// updateFileStatusTx performs the guarded status UPDATE inside an existing
// transaction. Shared by UpdateFileStatus and CreateBatch.
func (s *Store) updateFileStatusTx(
	ctx context.Context, tx *sql.Tx,
	id string, next FileStatus, allowed []FileStatus, fields FileFields,
) error {
	set := []string{"status = ?", "updated_at = ?", "mirror_synced = 0"}
	args := []any{string(next), s.now()}

	appendField := func(column string, value any) {
		set = append(set, column+" = ?")
		args = append(args, value)
	}

	if fields.Hash != nil {
		appendField("hash", *fields.Hash)
	}

	if fields.CompressionRatio != nil {
		appendField("compression_ratio", *fields.CompressionRatio)
	}

	if fields.CompressedPath != nil {
		appendField("compressed_path", nullString(*fields.CompressedPath))
	}

	if fields.Path != nil {
		appendField("path", *fields.Path)
	}

	if fields.BatchID != nil {
		appendField("batch_id", nullString(*fields.BatchID))
	}

	if fields.CaptureDate != nil {
		appendField("capture_date", nullInt64(*fields.CaptureDate))
	}

	if fields.ErrorMsg != nil {
		appendField("error_msg", *fields.ErrorMsg)
	}

	if fields.ProcessedAt != nil {
		appendField("processed_at", nullInt64(*fields.ProcessedAt))
	}

	if fields.IsDuplicate != nil {
		appendField("is_duplicate", boolToInt(*fields.IsDuplicate))
	}

	placeholders := strings.Repeat("?, ", len(allowed)-1) + "?"
	query := `UPDATE media_files SET ` + strings.Join(set, ", ") +
		` WHERE id = ? AND status IN (` + placeholders + `)`

	args = append(args, id)
	for _, a := range allowed {
		args = append(args, string(a))
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: updating file %s to %s: %w", id, next, err)
	}

	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("store: file %s rows affected: %w", id, rowsErr)
	}

	if rows == 0 {
		return s.explainMiss(ctx, tx, id, next)
	}

	return nil
}

// explainMiss distinguishes a missing row from an illegal transition after
// a guarded UPDATE touched nothing.
func (s *Store) explainMiss(ctx context.Context, tx *sql.Tx, id string, next FileStatus) error {
	var current string

	err := tx.QueryRowContext(ctx,
		`SELECT status FROM media_files WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: file %s", ErrNotFound, id)
	}

	if err != nil {
		return fmt.Errorf("store: reading file %s status: %w", id, err)
	}

	return fmt.Errorf("%w: file %s is %s, cannot become %s",
		ErrInvalidTransition, id, current, next)
}

// MarkFileError transitions a file to the terminal error status, recording
// the failure message. Allowed from every non-terminal status.
func (s *Store) MarkFileError(ctx context.Context, id, msg string) error {
	return s.UpdateFileStatus(ctx, id, StatusError, FileFields{ErrorMsg: &msg})
}

// ResetFile clears a file's error status back to downloaded so the
// pipeline picks it up again from the start. Operator action only.
func (s *Store) ResetFile(ctx context.Context, id string) error {
	err := s.withWrite(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE media_files
			 SET status = ?, error_msg = '', mirror_synced = 0, updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(StatusDownloaded), s.now(), id, string(StatusError))
		if err != nil {
			return fmt.Errorf("store: resetting file %s: %w", id, err)
		}

		rows, rowsErr := result.RowsAffected()
		if rowsErr != nil {
			return fmt.Errorf("store: reset file %s rows affected: %w", id, rowsErr)
		}

		if rows == 0 {
			return s.explainMiss(ctx, tx, id, StatusDownloaded)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.publishFile(ctx, id)
	s.logger.Info("file reset to downloaded", slog.String("id", id))

	return nil
}

// GetFile returns a file by ID, or (nil, nil) when no such row exists;
// callers use the nil file to distinguish "unknown ID" from "found".
func (s *Store) GetFile(ctx context.Context, id string) (*MediaFile, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM media_files WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil file means "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("store: getting file %s: %w", id, err)
	}

	return f, nil
}

// FindByHash returns every file carrying the given content hash, ordered
// by creation time so the earliest (the dedupe survivor candidate) comes
// first.
func (s *Store) FindByHash(ctx context.Context, hash string) ([]*MediaFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM media_files
		 WHERE hash = ? ORDER BY created_at, id`, hash)
	if err != nil {
		return nil, fmt.Errorf("store: finding files by hash: %w", err)
	}
	defer rows.Close()

	return scanFileRows(rows)
}

// ListFilesByStatus returns non-duplicate files at the given status,
// oldest first. This is every phase's input query, so the ordering makes
// duplicate-survivor selection and processing order deterministic.
func (s *Store) ListFilesByStatus(ctx context.Context, status FileStatus) ([]*MediaFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM media_files
		 WHERE status = ? AND is_duplicate = 0
		 ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("store: listing files at %s: %w", status, err)
	}
	defer rows.Close()

	return scanFileRows(rows)
}

// ListFilesByBatch returns every member of a batch via the membership
// table, oldest first.
func (s *Store) ListFilesByBatch(ctx context.Context, batchID string) ([]*MediaFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM media_files
		 WHERE id IN (SELECT file_id FROM batch_members WHERE batch_id = ?)
		 ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("store: listing files for batch %s: %w", batchID, err)
	}
	defer rows.Close()

	return scanFileRows(rows)
}

// ListErrorFiles returns every file stuck at the error status, oldest
// first. Duplicates are included: an operator reset must see everything.
func (s *Store) ListErrorFiles(ctx context.Context) ([]*MediaFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM media_files
		 WHERE status = ? ORDER BY created_at, id`, string(StatusError))
	if err != nil {
		return nil, fmt.Errorf("store: listing error files: %w", err)
	}
	defer rows.Close()

	return scanFileRows(rows)
}

// RelocateFile records a verified file's new archive location. The sort
// phase is the only caller: it moves files under the sorted tree without
// changing their lifecycle status, stamping processed_at instead.
func (s *Store) RelocateFile(ctx context.Context, id, newPath string, processedAt int64) error {
	err := s.withWrite(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE media_files
			 SET path = ?, processed_at = ?, mirror_synced = 0, updated_at = ?
			 WHERE id = ? AND status = ?`,
			newPath, processedAt, s.now(), id, string(StatusVerified))
		if err != nil {
			return fmt.Errorf("store: relocating file %s: %w", id, err)
		}

		rows, rowsErr := result.RowsAffected()
		if rowsErr != nil {
			return fmt.Errorf("store: relocate file %s rows affected: %w", id, rowsErr)
		}

		if rows == 0 {
			return s.explainMiss(ctx, tx, id, StatusVerified)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.publishFile(ctx, id)

	return nil
}

// SurvivorHashes returns hash -> file ID for every non-duplicate file with
// a recorded hash. When several survivors share a hash (possible only via
// operator meddling), the earliest-created row wins, matching the dedupe
// phase's survivor rule. This is the hash index's warm-up query.
func (s *Store) SurvivorHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, id FROM media_files
		 WHERE hash != '' AND is_duplicate = 0
		 ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: loading survivor hashes: %w", err)
	}
	defer rows.Close()

	// Descending order means later assignments overwrite, leaving the
	// earliest row in the map.
	hashes := make(map[string]string)

	for rows.Next() {
		var hash, id string

		if err := rows.Scan(&hash, &id); err != nil {
			return nil, fmt.Errorf("store: scanning survivor hash: %w", err)
		}

		hashes[hash] = id
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating survivor hashes: %w", err)
	}

	return hashes, nil
}

// publishFile emits the current row state onto the change feed. Reads run
// outside the write lock, so the emitted snapshot may already include a
// later write; the mirror only needs the newest state.
func (s *Store) publishFile(ctx context.Context, id string) {
	f, err := s.GetFile(ctx, id)
	if err != nil || f == nil {
		s.logger.Warn("change feed: could not load file after write",
			slog.String("id", id), slog.Any("error", err))
		return
	}

	s.feed.publish(Change{Kind: ChangeFile, File: f})
}
