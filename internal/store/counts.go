package store

import (
	"context"
	"fmt"
)

// FileCounts maps each lifecycle status to its row count. Statuses with no
// rows are present with a zero count so report output is stable.
type FileCounts map[FileStatus]int64

// AllFileStatuses lists every lifecycle status in pipeline order.
var AllFileStatuses = []FileStatus{
	StatusDownloaded, StatusDeduplicated, StatusCompressed,
	StatusBatched, StatusUploaded, StatusVerified, StatusError,
}

// CountFilesByStatus returns per-status file counts.
func (s *Store) CountFilesByStatus(ctx context.Context) (FileCounts, error) {
	counts := make(FileCounts, len(AllFileStatuses))
	for _, st := range AllFileStatuses {
		counts[st] = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM media_files GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: counting files by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int64
		)

		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: scanning status count: %w", err)
		}

		counts[FileStatus(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating status counts: %w", err)
	}

	return counts, nil
}

// BatchCount is one (destination, status) bucket of the batches table.
type BatchCount struct {
	Destination Destination
	Status      BatchStatus
	Count       int64
}

// CountBatches returns per-destination, per-status batch counts for
// buckets that have at least one row.
func (s *Store) CountBatches(ctx context.Context) ([]BatchCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT destination, status, COUNT(*) FROM batches
		 GROUP BY destination, status ORDER BY destination, status`)
	if err != nil {
		return nil, fmt.Errorf("store: counting batches: %w", err)
	}
	defer rows.Close()

	var counts []BatchCount

	for rows.Next() {
		var c BatchCount

		if err := rows.Scan(&c.Destination, &c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("store: scanning batch count: %w", err)
		}

		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating batch counts: %w", err)
	}

	return counts, nil
}
