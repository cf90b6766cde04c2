package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nharju/photobridge/internal/hashindex"
	"github.com/nharju/photobridge/internal/store"
)

// DedupePhase hashes every downloaded file and splits the set into
// survivors and duplicates. The first holder of a content hash (by
// created_at) survives; later holders are quarantined into the cleanup
// directory, never deleted. Hashing runs in the worker group; decisions
// apply serially in created_at order so the survivor is deterministic.
type DedupePhase struct {
	Store      *store.Store
	Index      *hashindex.Index
	Algorithm  string
	CleanupDir string
	Workers    int
	On         bool
	Logger     *slog.Logger
}

func (p *DedupePhase) Name() string  { return PhaseDedupe }
func (p *DedupePhase) Enabled() bool { return p.On }

func (p *DedupePhase) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()
	events := eventLog{store: p.Store, step: PhaseDedupe}

	files, err := p.Store.ListFilesByStatus(ctx, store.StatusDownloaded)
	if err != nil {
		return timed(start, Outcome{}), fmt.Errorf("dedupe: %w", err)
	}

	// Parallel hashing, indexed by position to keep the serial decision
	// pass in created_at order.
	type hashed struct {
		digest string
		err    error
	}

	results := make([]hashed, len(files))

	var g errgroup.Group

	g.SetLimit(p.Workers)

	for i, f := range files {
		g.Go(func() error {
			digest, err := hashFile(p.Algorithm, f.Path)
			results[i] = hashed{digest: digest, err: err}

			return nil
		})
	}

	// Goroutines only fill their own slot; Wait is the sync point.
	_ = g.Wait()

	var out Outcome

	for i, f := range files {
		out.Processed++

		r := results[i]
		if r.err != nil {
			p.Logger.Warn("unreadable file",
				slog.String("id", f.ID), slog.Any("error", r.err))
			events.failure(ctx, fmt.Sprintf("unreadable: %v", r.err), f.ID, "")

			if err := p.Store.MarkFileError(ctx, f.ID, r.err.Error()); err != nil {
				return timed(start, out), fmt.Errorf("dedupe: %w", err)
			}

			out.Failed++

			continue
		}

		originalID, dup, err := p.Index.Lookup(ctx, r.digest)
		if err != nil {
			return timed(start, out), fmt.Errorf("dedupe: %w", err)
		}

		if dup && originalID != f.ID {
			if err := p.quarantine(ctx, f, originalID, r.digest, events); err != nil {
				events.failure(ctx, fmt.Sprintf("quarantine: %v", err), f.ID, "")

				if err := p.Store.MarkFileError(ctx, f.ID, err.Error()); err != nil {
					return timed(start, out), fmt.Errorf("dedupe: %w", err)
				}

				out.Failed++

				continue
			}

			out.Succeeded++

			continue
		}

		err = p.Store.UpdateFileStatus(ctx, f.ID, store.StatusDeduplicated,
			store.FileFields{Hash: &r.digest})
		if err != nil {
			return timed(start, out), fmt.Errorf("dedupe: %w", err)
		}

		out.Succeeded++
	}

	return timed(start, out), nil
}

// quarantine moves a duplicate into the cleanup directory and records the
// duplicate relation. The file keeps existing on disk; only survivors
// continue through the pipeline.
func (p *DedupePhase) quarantine(
	ctx context.Context, f *store.MediaFile, originalID, digest string, events eventLog,
) error {
	dest := filepath.Join(p.CleanupDir, filepath.Base(f.Path))

	if err := moveFile(f.Path, dest); err != nil {
		return err
	}

	if err := p.Store.RecordDuplicate(ctx, originalID, f.ID, digest, dest); err != nil {
		return err
	}

	p.Logger.Info("duplicate quarantined",
		slog.String("id", f.ID),
		slog.String("original", originalID),
		slog.String("dest", dest),
	)
	events.info(ctx, fmt.Sprintf("duplicate of %s quarantined", originalID), f.ID, "")

	return nil
}
