package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nharju/photobridge/internal/store"
	"github.com/nharju/photobridge/pkg/exifdate"
)

// unknownBucket collects files whose capture date could not be determined
// by any extractor in the chain.
const unknownBucket = "unknown"

// SortPhase relocates verified originals into the dated archive tree,
// SORTED_DIR/YYYY/MM/DD. Files already under the sorted tree are left
// alone, so re-runs are no-ops. A name collision against identical content
// drops the source (the archive already holds it); different content gets
// a numeric suffix.
type SortPhase struct {
	Store     *store.Store
	SortedDir string
	Dates     *exifdate.Extractor
	Algorithm string
	On        bool
	Logger    *slog.Logger
}

func (p *SortPhase) Name() string  { return PhaseSort }
func (p *SortPhase) Enabled() bool { return p.On }

func (p *SortPhase) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()
	events := eventLog{store: p.Store, step: PhaseSort}

	files, err := p.Store.ListFilesByStatus(ctx, store.StatusVerified)
	if err != nil {
		return timed(start, Outcome{}), fmt.Errorf("sort: %w", err)
	}

	var out Outcome

	for _, f := range files {
		if strings.HasPrefix(f.Path, p.SortedDir+string(os.PathSeparator)) {
			out.Skipped++
			continue
		}

		out.Processed++

		if err := p.sortOne(ctx, f, events); err != nil {
			p.Logger.Warn("sort failed",
				slog.String("id", f.ID), slog.Any("error", err))
			events.failure(ctx, fmt.Sprintf("sort %s: %v", f.Filename, err), f.ID, "")

			out.Failed++

			continue
		}

		out.Succeeded++
	}

	return timed(start, out), nil
}

func (p *SortPhase) sortOne(ctx context.Context, f *store.MediaFile, events eventLog) error {
	dest, drop, err := p.destination(ctx, f)
	if err != nil {
		return err
	}

	if drop {
		// The archive already holds this exact content under this name.
		if err := os.Remove(f.Path); err != nil {
			return err
		}
	} else if err := moveFile(f.Path, dest); err != nil {
		return err
	}

	if err := p.Store.RelocateFile(ctx, f.ID, dest, time.Now().UnixNano()); err != nil {
		return err
	}

	events.success(ctx, fmt.Sprintf("archived %s", filepath.Base(dest)), f.ID, "")

	return nil
}

// destination resolves the dated target path for a file. drop means the
// target already holds identical content and the source should just be
// removed.
func (p *SortPhase) destination(ctx context.Context, f *store.MediaFile) (dest string, drop bool, err error) {
	dir := filepath.Join(p.SortedDir, unknownBucket)

	// The compress phase usually recorded the capture date already; fall
	// back to the extraction chain when it did not.
	var captured time.Time

	if f.CaptureDate > 0 {
		captured = time.Unix(0, f.CaptureDate)
	} else if result := p.Dates.Extract(ctx, f.Path); result.Known() {
		captured = result.Time
	}

	if !captured.IsZero() {
		t := captured
		dir = filepath.Join(p.SortedDir,
			fmt.Sprintf("%04d", t.Year()),
			fmt.Sprintf("%02d", int(t.Month())),
			fmt.Sprintf("%02d", t.Day()),
		)
	}

	base := filepath.Base(f.Path)
	dest = filepath.Join(dir, base)

	if _, err := os.Stat(dest); err != nil {
		return dest, false, nil
	}

	existing, err := hashFile(p.Algorithm, dest)
	if err != nil {
		return "", false, err
	}

	if existing == f.Hash {
		return dest, true, nil
	}

	// Different content under the same name: smallest free numeric suffix.
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 1; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
		if _, err := os.Stat(candidate); err != nil {
			return candidate, false, nil
		}
	}
}
