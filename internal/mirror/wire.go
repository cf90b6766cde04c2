package mirror

import (
	"time"

	"github.com/nharju/photobridge/internal/store"
)

// Remote table names. The hosted service carries the same logical schema
// as the local store.
const (
	tableFiles   = "media_files"
	tableBatches = "batches"
	tableLogs    = "logs"
)

// fileRow is the remote representation of a media file. Timestamps go out
// as RFC3339 strings; the hosted service uses timestamptz columns.
type fileRow struct {
	ID               string  `json:"id"`
	Filename         string  `json:"filename"`
	Path             string  `json:"path"`
	SourcePath       string  `json:"source_path"`
	SourceType       string  `json:"source_type"`
	Size             int64   `json:"size"`
	Hash             string  `json:"hash"`
	CompressionRatio float64 `json:"compression_ratio"`
	IsDuplicate      bool    `json:"is_duplicate"`
	Status           string  `json:"status"`
	BatchID          *string `json:"batch_id"`
	ErrorMsg         string  `json:"error_msg"`
	CreatedAt        string  `json:"created_at"`
	ProcessedAt      *string `json:"processed_at"`
	UpdatedAt        string  `json:"updated_at"`
}

type batchRow struct {
	ID          string  `json:"id"`
	Destination string  `json:"destination"`
	Status      string  `json:"status"`
	TotalSize   int64   `json:"total_size"`
	FileCount   int     `json:"file_count"`
	ErrorMsg    string  `json:"error_msg"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at"`
}

type logRow struct {
	ID        int64   `json:"id"`
	Step      string  `json:"step"`
	Severity  string  `json:"severity"`
	Message   string  `json:"message"`
	FileID    *string `json:"file_id"`
	BatchID   *string `json:"batch_id"`
	CreatedAt string  `json:"created_at"`
}

func toFileRow(f *store.MediaFile) fileRow {
	return fileRow{
		ID:               f.ID,
		Filename:         f.Filename,
		Path:             f.Path,
		SourcePath:       f.SourcePath,
		SourceType:       string(f.SourceType),
		Size:             f.Size,
		Hash:             f.Hash,
		CompressionRatio: f.CompressionRatio,
		IsDuplicate:      f.IsDuplicate,
		Status:           string(f.Status),
		BatchID:          optStr(f.BatchID),
		ErrorMsg:         f.ErrorMsg,
		CreatedAt:        wireTime(f.CreatedAt),
		ProcessedAt:      optTime(f.ProcessedAt),
		UpdatedAt:        wireTime(f.UpdatedAt),
	}
}

func toBatchRow(b *store.Batch) batchRow {
	return batchRow{
		ID:          b.ID,
		Destination: string(b.Destination),
		Status:      string(b.Status),
		TotalSize:   b.TotalSize,
		FileCount:   b.FileCount,
		ErrorMsg:    b.ErrorMsg,
		CreatedAt:   wireTime(b.CreatedAt),
		CompletedAt: optTime(b.CompletedAt),
	}
}

func toLogRow(e *store.LogEntry) logRow {
	return logRow{
		ID:        e.ID,
		Step:      e.Step,
		Severity:  string(e.Severity),
		Message:   e.Message,
		FileID:    optStr(e.FileID),
		BatchID:   optStr(e.BatchID),
		CreatedAt: wireTime(e.CreatedAt),
	}
}

// wireTime renders a unix-nanosecond timestamp as RFC3339 UTC.
func wireTime(ns int64) string {
	return time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
}

func optTime(ns int64) *string {
	if ns == 0 {
		return nil
	}

	s := wireTime(ns)

	return &s
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
