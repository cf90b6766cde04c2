package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/nharju/photobridge/internal/config"
	"github.com/nharju/photobridge/internal/store"
)

// bridgeLockName is the per-bridge advisory lock file. Concurrent stagers
// (a second pipeline instance, a manual run) serialize on it so a bridge is
// never filled by two writers at once.
const bridgeLockName = ".photobridge.lock"

// lockRetryInterval is the poll cadence while waiting on a held bridge lock.
const lockRetryInterval = 250 * time.Millisecond

// acquireBridgeLock takes a bridge's advisory lock. The stager holds it
// while filling a bridge and the uploaders hold it while draining one, so
// the two never overlap.
func acquireBridgeLock(ctx context.Context, bridgeDir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(bridgeDir, bridgeLockName))

	locked, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("bridge lock: %w", err)
	}

	if !locked {
		return nil, fmt.Errorf("bridge lock: not acquired")
	}

	return lock, nil
}

// StageDest is one staging target: a destination tag and its bridge
// directory.
type StageDest struct {
	Dest store.Destination
	Dir  string
}

// StagePhase copies compressed artifacts into the per-destination bridge
// directories and groups them into batches. Selection walks compressed
// files in created_at order until the byte or file cap; a file landing
// exactly on the cap is included. The same selection ships to every
// enabled destination: the first destination's CreateBatch advances
// members to batched, later destinations attach the same members to an
// additional batch.
type StagePhase struct {
	Store     *store.Store
	Bridge    config.BridgeConfig
	Algorithm string
	Dests     []StageDest
	On        bool
	Logger    *slog.Logger
}

func (p *StagePhase) Name() string  { return PhaseStage }
func (p *StagePhase) Enabled() bool { return p.On && len(p.Dests) > 0 }

func (p *StagePhase) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()
	events := eventLog{store: p.Store, step: PhaseStage}

	files, err := p.Store.ListFilesByStatus(ctx, store.StatusCompressed)
	if err != nil {
		return timed(start, Outcome{}), fmt.Errorf("stage: %w", err)
	}

	selected, skipped, err := p.selectBatch(files)
	if err != nil {
		return timed(start, Outcome{}), fmt.Errorf("stage: %w", err)
	}

	out := Outcome{Skipped: skipped}
	if len(selected) == 0 {
		return timed(start, out), nil
	}

	// Per-file staging failures drop the file from every batch.
	healthy := selected

	for i, dest := range p.Dests {
		staged, failed, err := p.stageTo(ctx, dest, healthy, events)
		if err != nil {
			return timed(start, out), fmt.Errorf("stage: %s: %w", dest.Dest, err)
		}

		out.Failed += failed
		healthy = staged

		if len(staged) == 0 {
			continue
		}

		ids := make([]string, len(staged))
		for j, f := range staged {
			ids[j] = f.ID
		}

		var batch *store.Batch

		if i == 0 {
			batch, err = p.Store.CreateBatch(ctx, dest.Dest, ids)
		} else {
			batch, err = p.Store.AttachBatch(ctx, dest.Dest, ids)
		}

		if err != nil {
			return timed(start, out), fmt.Errorf("stage: %s: %w", dest.Dest, err)
		}

		p.Logger.Info("batch staged",
			slog.String("batch", batch.ID),
			slog.String("destination", string(dest.Dest)),
			slog.Int("files", batch.FileCount),
			slog.Int64("bytes", batch.TotalSize),
		)
		events.success(ctx, fmt.Sprintf("staged %d files (%d bytes) for %s",
			batch.FileCount, batch.TotalSize, dest.Dest), "", batch.ID)
	}

	out.Processed = len(selected)
	out.Succeeded = len(healthy)

	return timed(start, out), nil
}

// selectBatch walks candidates in order, accumulating until a cap would be
// exceeded. Selection stops at the first over-cap file rather than
// skipping it, keeping shipments contiguous in created_at order.
func (p *StagePhase) selectBatch(files []*store.MediaFile) (selected []*store.MediaFile, skipped int, err error) {
	var total int64

	for i, f := range files {
		info, err := os.Stat(f.CompressedPath)
		if err != nil {
			return nil, 0, fmt.Errorf("artifact missing: %w", err)
		}

		if len(selected)+1 > p.Bridge.MaxBatchFiles || total+info.Size() > p.Bridge.MaxBatchBytes {
			skipped = len(files) - i
			break
		}

		selected = append(selected, f)
		total += info.Size()
	}

	return selected, skipped, nil
}

// stageTo copies the selection into one bridge under its advisory lock and
// returns the files that made it.
func (p *StagePhase) stageTo(
	ctx context.Context, dest StageDest, files []*store.MediaFile, events eventLog,
) (staged []*store.MediaFile, failed int, err error) {
	if err := os.MkdirAll(dest.Dir, 0o755); err != nil {
		return nil, 0, err
	}

	lock, err := acquireBridgeLock(ctx, dest.Dir)
	if err != nil {
		return nil, 0, err
	}
	defer lock.Unlock()

	if p.Bridge.ClearBridgeBeforeProcessing {
		if err := p.clearUploaded(ctx, dest.Dir); err != nil {
			return nil, 0, err
		}
	}

	for _, f := range files {
		if err := p.stageOne(dest.Dir, f); err != nil {
			p.Logger.Warn("staging failed",
				slog.String("id", f.ID), slog.Any("error", err))
			events.failure(ctx, fmt.Sprintf("stage %s: %v", f.Filename, err), f.ID, "")

			if err := p.Store.MarkFileError(ctx, f.ID, err.Error()); err != nil {
				return nil, failed, err
			}

			failed++

			continue
		}

		staged = append(staged, f)
	}

	return staged, failed, nil
}

// stageOne places one artifact under its NFC-normalized basename. A name
// already taken by identical content is left alone; different content gets
// the hash-suffixed name.
func (p *StagePhase) stageOne(bridgeDir string, f *store.MediaFile) error {
	name := stagedName(f.CompressedPath)
	target := filepath.Join(bridgeDir, name)

	if _, err := os.Stat(target); err == nil {
		existing, err := hashFile(p.Algorithm, target)
		if err != nil {
			return err
		}

		artifact, err := hashFile(p.Algorithm, f.CompressedPath)
		if err != nil {
			return err
		}

		// Identical content is already staged under this name.
		if existing == artifact {
			return nil
		}

		target = filepath.Join(bridgeDir, conflictName(name, f.Hash))
	}

	return copyFile(f.CompressedPath, target)
}

// clearUploaded removes bridge leftovers belonging to files that already
// passed the upload stage.
func (p *StagePhase) clearUploaded(ctx context.Context, bridgeDir string) error {
	for _, status := range []store.FileStatus{store.StatusUploaded, store.StatusVerified} {
		files, err := p.Store.ListFilesByStatus(ctx, status)
		if err != nil {
			return err
		}

		for _, f := range files {
			if f.CompressedPath == "" {
				continue
			}

			if path, ok := findStaged(bridgeDir, f.CompressedPath, f.Hash); ok {
				if err := os.Remove(path); err != nil {
					return err
				}

				p.Logger.Debug("cleared uploaded leftover", slog.String("path", path))
			}
		}
	}

	return nil
}
