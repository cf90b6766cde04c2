// Package pipeline implements the phase graph that moves media files from
// discovery to archival: ingest, dedupe, compress, stage, the two upload
// phases, verify, and sort. Each phase reads its input set from the
// metadata store by status, applies its transformation, and advances
// survivors one status; per-file failures mark the file and never abort
// the phase. The orchestrator runs the graph in dependency order and skips
// phases whose upstream failed.
package pipeline

import (
	"context"
	"time"

	"github.com/nharju/photobridge/internal/store"
)

// Phase names, in graph order. These are the step tags used in log rows
// and the identifiers accepted by the run command's phase filter.
const (
	PhaseIngest       = "ingest"
	PhaseDedupe       = "dedupe"
	PhaseCompress     = "compress"
	PhaseStage        = "stage"
	PhaseUploadICloud = "upload_icloud"
	PhaseSyncPixel    = "sync_pixel"
	PhaseVerify       = "verify"
	PhaseSort         = "sort"
)

// Outcome summarizes one phase run. Processed counts every input the phase
// looked at; Skipped counts inputs deliberately left alone (already done,
// filtered out), not phase-level skips.
type Outcome struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Dur       time.Duration
}

// Phase is one node of the pipeline graph. Run returning a non-nil error
// means the phase could not start or aborted; per-file failures are
// reported through Outcome.Failed instead.
type Phase interface {
	Name() string
	Enabled() bool
	Run(ctx context.Context) (Outcome, error)
}

// timed stamps an outcome's duration.
func timed(start time.Time, out Outcome) Outcome {
	out.Dur = time.Since(start)
	return out
}

// eventLog appends a pipeline event to the store's log table. Log rows are
// operational telemetry: a failed append is logged and swallowed, never
// surfaced as a phase failure.
type eventLog struct {
	store *store.Store
	step  string
}

func (l eventLog) write(ctx context.Context, sev store.Severity, msg, fileID, batchID string) {
	// The store's own logger records append failures.
	_, _ = l.store.AppendLog(ctx, &store.LogEntry{
		Step:     l.step,
		Severity: sev,
		Message:  msg,
		FileID:   fileID,
		BatchID:  batchID,
	})
}

func (l eventLog) info(ctx context.Context, msg, fileID, batchID string) {
	l.write(ctx, store.SeverityInfo, msg, fileID, batchID)
}

func (l eventLog) success(ctx context.Context, msg, fileID, batchID string) {
	l.write(ctx, store.SeveritySuccess, msg, fileID, batchID)
}

func (l eventLog) warning(ctx context.Context, msg, fileID, batchID string) {
	l.write(ctx, store.SeverityWarning, msg, fileID, batchID)
}

func (l eventLog) failure(ctx context.Context, msg, fileID, batchID string) {
	l.write(ctx, store.SeverityError, msg, fileID, batchID)
}
