package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sethvargo/go-retry"

	"github.com/nharju/photobridge/internal/icloud"
	"github.com/nharju/photobridge/internal/store"
)

// UploadICloudPhase pushes staged batches through the browser agent into
// the cloud photo library. Each file gets a bounded retry budget with a
// constant delay; the selector is re-resolved once per attempt, so a file
// consumes at most attempts+1 resolutions. A file that exhausts its budget
// goes to error and the batch records the failure, but the phase keeps
// uploading the rest.
type UploadICloudPhase struct {
	Store    *store.Store
	Agent    icloud.Agent
	Resolver *icloud.Resolver

	SessionFile string
	BridgeDir   string
	UploadedDir string

	UploadTimeout time.Duration
	RetryAttempts int
	RetryDelay    time.Duration

	// Inspect lists detected upload controls on Output and returns without
	// uploading anything.
	Inspect bool
	Output  io.Writer

	// Progress draws a terminal progress bar; the CLI sets it on TTYs only.
	Progress bool

	On     bool
	Logger *slog.Logger
}

func (p *UploadICloudPhase) Name() string  { return PhaseUploadICloud }
func (p *UploadICloudPhase) Enabled() bool { return p.On }

func (p *UploadICloudPhase) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()
	events := eventLog{store: p.Store, step: PhaseUploadICloud}

	batches, err := p.Store.ListResumableBatches(ctx, store.DestICloud)
	if err != nil {
		return timed(start, Outcome{}), fmt.Errorf("upload_icloud: %w", err)
	}

	if len(batches) == 0 && !p.Inspect {
		return timed(start, Outcome{}), nil
	}

	if err := p.openSession(ctx); err != nil {
		return timed(start, Outcome{}), fmt.Errorf("upload_icloud: %w", err)
	}
	defer p.closeSession()

	if p.Inspect {
		return timed(start, Outcome{}), p.inspect(ctx)
	}

	// The bridge is ours for the whole drain; a concurrent stager waits.
	lock, err := acquireBridgeLock(ctx, p.BridgeDir)
	if err != nil {
		return timed(start, Outcome{}), fmt.Errorf("upload_icloud: %w", err)
	}
	defer lock.Unlock()

	var out Outcome

	for _, batch := range batches {
		uploaded, failed, err := p.uploadBatch(ctx, batch, events)

		out.Processed += uploaded + failed
		out.Succeeded += uploaded
		out.Failed += failed

		if err != nil {
			return timed(start, out), fmt.Errorf("upload_icloud: batch %s: %w", batch.ID, err)
		}
	}

	return timed(start, out), nil
}

// openSession starts the browser, restores persisted cookies, and lands on
// the photo library.
func (p *UploadICloudPhase) openSession(ctx context.Context) error {
	if err := p.Agent.Start(ctx); err != nil {
		return err
	}

	cookies, err := icloud.LoadSession(p.SessionFile)
	if err != nil {
		p.Agent.Stop()
		return err
	}

	if len(cookies) > 0 {
		if err := p.Agent.RestoreSession(ctx, cookies); err != nil {
			p.Agent.Stop()
			return err
		}
	}

	if err := p.Agent.OpenPhotos(ctx); err != nil {
		p.Agent.Stop()
		return err
	}

	return nil
}

// closeSession persists whatever cookies the session now holds, then stops
// the browser. Session save is best-effort: losing it costs a login, not
// data.
func (p *UploadICloudPhase) closeSession() {
	cookies, err := p.Agent.SaveSession(context.Background())
	if err == nil && len(cookies) > 0 {
		if err := icloud.SaveSession(p.SessionFile, cookies); err != nil {
			p.Logger.Warn("session save failed", slog.Any("error", err))
		}
	}

	p.Agent.Stop()
}

func (p *UploadICloudPhase) inspect(ctx context.Context) error {
	candidates, err := p.Agent.ListCandidates(ctx)
	if err != nil {
		return fmt.Errorf("upload_icloud: inspect: %w", err)
	}

	fmt.Fprintf(p.Output, "detected %d upload control candidates:\n", len(candidates))

	for _, c := range candidates {
		fmt.Fprintf(p.Output, "  %s\n", c)
	}

	return nil
}

func (p *UploadICloudPhase) uploadBatch(
	ctx context.Context, batch *store.Batch, events eventLog,
) (uploaded, failed int, err error) {
	// A batch already at uploading is a resumed interrupted run.
	if batch.Status != store.BatchUploading {
		if err := p.Store.SetBatchStatus(ctx, batch.ID, store.BatchUploading, ""); err != nil {
			return 0, 0, err
		}
	}

	members, err := p.Store.ListFilesByBatch(ctx, batch.ID)
	if err != nil {
		return 0, 0, err
	}

	bar := p.newBar(len(members), batch.ID)

	for _, f := range members {
		if f.Status != store.StatusBatched {
			continue
		}

		if err := p.uploadFile(ctx, f); err != nil {
			p.Logger.Warn("upload failed",
				slog.String("id", f.ID), slog.Any("error", err))
			events.failure(ctx, fmt.Sprintf("upload %s: %v", f.Filename, err), f.ID, batch.ID)

			if err := p.Store.MarkFileError(ctx, f.ID, err.Error()); err != nil {
				return uploaded, failed, err
			}

			failed++
		} else {
			events.success(ctx, fmt.Sprintf("uploaded %s", f.Filename), f.ID, batch.ID)
			uploaded++
		}

		if bar != nil {
			bar.Add(1)
		}
	}

	status, msg := store.BatchUploaded, ""
	if failed > 0 {
		status, msg = store.BatchError, fmt.Sprintf("%d of %d uploads failed", failed, len(members))
	}

	if err := p.Store.SetBatchStatus(ctx, batch.ID, status, msg); err != nil {
		return uploaded, failed, err
	}

	return uploaded, failed, nil
}

// uploadFile resolves, sends, and waits for one staged file, then records
// the upload and moves the staged copy out of the bridge.
func (p *UploadICloudPhase) uploadFile(ctx context.Context, f *store.MediaFile) error {
	staged, ok := findStaged(p.BridgeDir, f.CompressedPath, f.Hash)
	if !ok {
		return fmt.Errorf("staged copy missing from bridge")
	}

	backoff := retry.WithMaxRetries(uint64(p.RetryAttempts), retry.NewConstant(p.RetryDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := p.attempt(ctx, staged); err != nil {
			return retry.RetryableError(err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	err = p.Store.UpdateFileStatus(ctx, f.ID, store.StatusUploaded, store.FileFields{})
	if err != nil {
		return err
	}

	return moveFile(staged, filepath.Join(p.UploadedDir, filepath.Base(staged)))
}

func (p *UploadICloudPhase) attempt(ctx context.Context, staged string) error {
	sel, err := p.Resolver.Resolve(ctx, p.Agent)
	if err != nil {
		return err
	}

	if err := p.Agent.SendFile(ctx, sel, staged); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.UploadTimeout)
	defer cancel()

	return p.Agent.WaitUploadComplete(waitCtx)
}

func (p *UploadICloudPhase) newBar(total int, batchID string) *progressbar.ProgressBar {
	if !p.Progress || total == 0 {
		return nil
	}

	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.Output),
		progressbar.OptionSetDescription(fmt.Sprintf("uploading batch %.8s", batchID)),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
