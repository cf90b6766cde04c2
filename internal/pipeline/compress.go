package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nharju/photobridge/internal/config"
	"github.com/nharju/photobridge/internal/media"
	"github.com/nharju/photobridge/internal/store"
	"github.com/nharju/photobridge/pkg/exifdate"
)

// CompressPhase recompresses every deduplicated survivor into the
// compressed artifact directory. Parameters are age-tiered: files whose
// capture date falls within the configured interval get the gentler
// initial settings, older files the more aggressive subsequent ones.
// Originals are never touched; re-runs overwrite the artifact.
type CompressPhase struct {
	Store         *store.Store
	Cfg           config.CompressionConfig
	CompressedDir string
	Transcoder    *media.Transcoder
	Dates         *exifdate.Extractor
	Workers       int
	On            bool
	Logger        *slog.Logger
}

func (p *CompressPhase) Name() string  { return PhaseCompress }
func (p *CompressPhase) Enabled() bool { return p.On }

func (p *CompressPhase) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()
	events := eventLog{store: p.Store, step: PhaseCompress}

	files, err := p.Store.ListFilesByStatus(ctx, store.StatusDeduplicated)
	if err != nil {
		return timed(start, Outcome{}), fmt.Errorf("compress: %w", err)
	}

	if err := os.MkdirAll(p.CompressedDir, 0o755); err != nil {
		return timed(start, Outcome{}), fmt.Errorf("compress: %w", err)
	}

	var (
		mu  sync.Mutex
		out Outcome
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)

	for _, f := range files {
		g.Go(func() error {
			mu.Lock()
			out.Processed++
			mu.Unlock()

			if err := p.compressOne(gctx, f, events); err != nil {
				p.Logger.Warn("compression failed",
					slog.String("id", f.ID), slog.Any("error", err))
				events.failure(gctx, fmt.Sprintf("compress %s: %v", f.Filename, err), f.ID, "")

				if err := p.Store.MarkFileError(gctx, f.ID, err.Error()); err != nil {
					return fmt.Errorf("compress: %w", err)
				}

				mu.Lock()
				out.Failed++
				mu.Unlock()

				return nil
			}

			mu.Lock()
			out.Succeeded++
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return timed(start, out), err
	}

	return timed(start, out), nil
}

// compressOne produces the artifact for one file and advances it to
// compressed, recording ratio and capture date.
func (p *CompressPhase) compressOne(ctx context.Context, f *store.MediaFile, events eventLog) error {
	capture := p.Dates.Extract(ctx, f.Path)
	initial := p.initialTier(capture)
	dst := filepath.Join(p.CompressedDir, filepath.Base(f.Path))

	compressedSize, err := p.produce(ctx, f, dst, initial, events)
	if err != nil {
		return err
	}

	// A result bigger than the original defeats the purpose: ship the
	// original bytes instead.
	if compressedSize >= f.Size && f.Size > 0 {
		if err := copyFile(f.Path, dst); err != nil {
			return err
		}

		compressedSize = f.Size
	}

	ratio := 1.0
	if f.Size > 0 {
		ratio = float64(compressedSize) / float64(f.Size)
	}

	fields := store.FileFields{
		CompressionRatio: &ratio,
		CompressedPath:   &dst,
	}

	if capture.Known() {
		captureNanos := capture.Time.UnixNano()
		fields.CaptureDate = &captureNanos
	}

	return p.Store.UpdateFileStatus(ctx, f.ID, store.StatusCompressed, fields)
}

// produce writes the compressed artifact and returns its size. Unsupported
// formats and a missing transcoder degrade to a straight copy.
func (p *CompressPhase) produce(
	ctx context.Context, f *store.MediaFile, dst string, initial bool, events eventLog,
) (int64, error) {
	switch media.KindOf(f.Path) {
	case media.KindImage:
		size, err := media.CompressImage(f.Path, dst, p.resizePct(initial), p.Cfg.JPEGQuality)
		if errors.Is(err, media.ErrUnsupported) {
			return p.copyThrough(ctx, f, dst, "unsupported image format", events)
		}

		return size, err

	case media.KindVideo:
		if !p.Transcoder.Available() {
			return p.copyThrough(ctx, f, dst, "ffmpeg not available", events)
		}

		return p.Transcoder.Transcode(ctx, f.Path, dst,
			p.videoRes(initial), p.Cfg.VideoCRF, p.Cfg.VideoPreset)

	default:
		return p.copyThrough(ctx, f, dst, "unsupported media type", events)
	}
}

func (p *CompressPhase) copyThrough(
	ctx context.Context, f *store.MediaFile, dst, reason string, events eventLog,
) (int64, error) {
	p.Logger.Warn("copy-through",
		slog.String("id", f.ID), slog.String("reason", reason))
	events.warning(ctx, fmt.Sprintf("%s, copied %s unchanged", reason, f.Filename), f.ID, "")

	if err := copyFile(f.Path, dst); err != nil {
		return 0, err
	}

	return f.Size, nil
}

// initialTier reports whether the file is recent enough for the gentler
// parameters. Files without a usable capture date count as old.
func (p *CompressPhase) initialTier(capture exifdate.Result) bool {
	if !capture.Known() {
		return false
	}

	cutoff := time.Now().AddDate(-p.Cfg.IntervalYears, 0, 0)

	return capture.Time.After(cutoff)
}

func (p *CompressPhase) resizePct(initial bool) int {
	if initial {
		return p.Cfg.InitialResizePct
	}

	return p.Cfg.SubsequentResizePct
}

func (p *CompressPhase) videoRes(initial bool) int {
	if initial {
		return p.Cfg.InitialVideoRes
	}

	return p.Cfg.SubsequentVideoRes
}
