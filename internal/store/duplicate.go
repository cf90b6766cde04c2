package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Duplicate links a quarantined file to the surviving original that shares
// its content hash. Rows are written once by the dedupe phase and never
// mutated.
type Duplicate struct {
	ID              string
	OriginalFileID  string
	DuplicateFileID string
	Hash            string
	CreatedAt       int64
}

// RecordDuplicate writes the equivalence link and, in the same transaction,
// marks the duplicate file: status deduplicated, is_duplicate set, hash
// recorded, path moved to quarantinePath. The duplicates table's UNIQUE
// constraint on duplicate_file_id makes a re-run of dedupe fail loudly
// rather than double-link.
func (s *Store) RecordDuplicate(ctx context.Context, originalID, dupID, hash, quarantinePath string) error {
	d := &Duplicate{
		ID:              uuid.NewString(),
		OriginalFileID:  originalID,
		DuplicateFileID: dupID,
		Hash:            hash,
	}

	isDup := true

	err := s.withWrite(ctx, func(ctx context.Context, tx *sql.Tx) error {
		d.CreatedAt = s.now()

		_, err := tx.ExecContext(ctx,
			`INSERT INTO duplicates
				(id, original_file_id, duplicate_file_id, hash, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			d.ID, d.OriginalFileID, d.DuplicateFileID, d.Hash, d.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("store: recording duplicate %s of %s: %w", dupID, originalID, err)
		}

		return s.updateFileStatusTx(ctx, tx, dupID, StatusDeduplicated,
			allowedFrom(StatusDeduplicated), FileFields{
				Hash:        &hash,
				Path:        &quarantinePath,
				IsDuplicate: &isDup,
			})
	})
	if err != nil {
		return err
	}

	s.publishFile(ctx, dupID)
	s.logger.Info("duplicate recorded",
		slog.String("duplicate", dupID),
		slog.String("original", originalID),
	)

	return nil
}

// GetDuplicateOf returns the duplicate link for a quarantined file, or
// (nil, nil) when the file is not recorded as a duplicate.
func (s *Store) GetDuplicateOf(ctx context.Context, dupID string) (*Duplicate, error) {
	var d Duplicate

	err := s.db.QueryRowContext(ctx,
		`SELECT id, original_file_id, duplicate_file_id, hash, created_at
		 FROM duplicates WHERE duplicate_file_id = ?`, dupID).Scan(
		&d.ID, &d.OriginalFileID, &d.DuplicateFileID, &d.Hash, &d.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // nil means "not a duplicate"
	}

	if err != nil {
		return nil, fmt.Errorf("store: getting duplicate link for %s: %w", dupID, err)
	}

	return &d, nil
}

// CountDuplicates returns the total number of duplicate links.
func (s *Store) CountDuplicates(ctx context.Context) (int64, error) {
	var n int64

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM duplicates`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: counting duplicates: %w", err)
	}

	return n, nil
}
