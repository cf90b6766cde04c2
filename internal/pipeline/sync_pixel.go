package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nharju/photobridge/internal/store"
	"github.com/nharju/photobridge/internal/syncthing"
)

// SyncPixelPhase hands staged batches to the file-sync daemon watching the
// pixel bridge and waits for the folder to settle. The daemon does the
// transfer; this phase only confirms it finished. A sync timeout fails the
// whole phase (the files stay batched for a retry next run) while
// independent phases keep running.
type SyncPixelPhase struct {
	Store    *store.Store
	Client   *syncthing.Client
	FolderID string

	Poll    time.Duration
	Timeout time.Duration

	BridgeDir   string
	UploadedDir string

	On     bool
	Logger *slog.Logger
}

func (p *SyncPixelPhase) Name() string  { return PhaseSyncPixel }
func (p *SyncPixelPhase) Enabled() bool { return p.On }

func (p *SyncPixelPhase) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()
	events := eventLog{store: p.Store, step: PhaseSyncPixel}

	batches, err := p.Store.ListResumableBatches(ctx, store.DestPixel)
	if err != nil {
		return timed(start, Outcome{}), fmt.Errorf("sync_pixel: %w", err)
	}

	if len(batches) == 0 {
		return timed(start, Outcome{}), nil
	}

	// Hold the bridge while draining it so the stager cannot add to a
	// folder mid-sync.
	lock, err := acquireBridgeLock(ctx, p.BridgeDir)
	if err != nil {
		return timed(start, Outcome{}), fmt.Errorf("sync_pixel: %w", err)
	}
	defer lock.Unlock()

	var out Outcome

	for _, batch := range batches {
		done, failed, err := p.syncBatch(ctx, batch, events)

		out.Processed += done + failed
		out.Succeeded += done
		out.Failed += failed

		if err != nil {
			return timed(start, out), fmt.Errorf("sync_pixel: batch %s: %w", batch.ID, err)
		}
	}

	return timed(start, out), nil
}

func (p *SyncPixelPhase) syncBatch(
	ctx context.Context, batch *store.Batch, events eventLog,
) (done, failed int, err error) {
	// A batch already at uploading is a resumed interrupted run; an error
	// batch with waiting members reopens for the retry.
	if batch.Status != store.BatchUploading {
		if err := p.Store.SetBatchStatus(ctx, batch.ID, store.BatchUploading, ""); err != nil {
			return 0, 0, err
		}
	}

	members, err := p.Store.ListFilesByBatch(ctx, batch.ID)
	if err != nil {
		return 0, 0, err
	}

	p.Logger.Info("waiting for folder sync",
		slog.String("batch", batch.ID),
		slog.String("folder", p.FolderID),
		slog.Int("files", len(members)),
	)

	if err := p.Client.WaitInSync(ctx, p.FolderID, p.Poll, p.Timeout); err != nil {
		msg := fmt.Sprintf("folder sync: %v", err)
		events.failure(ctx, msg, "", batch.ID)

		if serr := p.Store.SetBatchStatus(ctx, batch.ID, store.BatchError, msg); serr != nil {
			return 0, 0, serr
		}

		if errors.Is(err, syncthing.ErrSyncTimeout) {
			// Members stay batched; the next run retries the shipment.
			return 0, len(members), err
		}

		return 0, len(members), err
	}

	for _, f := range members {
		if f.Status != store.StatusBatched {
			continue
		}

		if err := p.completeMember(ctx, f); err != nil {
			events.failure(ctx, fmt.Sprintf("finalize %s: %v", f.Filename, err), f.ID, batch.ID)

			if err := p.Store.MarkFileError(ctx, f.ID, err.Error()); err != nil {
				return done, failed, err
			}

			failed++

			continue
		}

		done++
	}

	status, msg := store.BatchUploaded, ""
	if failed > 0 {
		status, msg = store.BatchError, fmt.Sprintf("%d of %d files failed finalizing", failed, len(members))
	}

	if err := p.Store.SetBatchStatus(ctx, batch.ID, status, msg); err != nil {
		return done, failed, err
	}

	events.success(ctx, fmt.Sprintf("synced %d files to pixel", done), "", batch.ID)

	return done, failed, nil
}

// completeMember records a synced file and moves its staged copy out of
// the watched folder into the uploaded archive.
func (p *SyncPixelPhase) completeMember(ctx context.Context, f *store.MediaFile) error {
	err := p.Store.UpdateFileStatus(ctx, f.ID, store.StatusUploaded, store.FileFields{})
	if err != nil {
		return err
	}

	staged, ok := findStaged(p.BridgeDir, f.CompressedPath, f.Hash)
	if !ok {
		// The daemon may have renamed nothing; a missing staged copy after a
		// confirmed sync is not worth failing the file over.
		p.Logger.Warn("staged copy missing after sync", slog.String("id", f.ID))
		return nil
	}

	return moveFile(staged, filepath.Join(p.UploadedDir, filepath.Base(staged)))
}
