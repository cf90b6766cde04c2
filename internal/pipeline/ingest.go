package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nharju/photobridge/internal/ingest"
	"github.com/nharju/photobridge/internal/store"
)

// IngestPhase pulls new media from every configured source adapter into
// the originals tree and registers each file at status downloaded.
// Registration is idempotent on (source_path, filename), so re-running
// after a crash re-registers nothing.
type IngestPhase struct {
	Store    *store.Store
	Adapters []ingest.Adapter
	Workers  int
	On       bool
	Logger   *slog.Logger
}

func (p *IngestPhase) Name() string  { return PhaseIngest }
func (p *IngestPhase) Enabled() bool { return p.On && len(p.Adapters) > 0 }

// Run discovers and fetches per adapter. A Discover failure aborts the
// phase (the source is unreachable or unauthenticated); per-item fetch
// failures are logged and counted without stopping the sweep.
func (p *IngestPhase) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()
	events := eventLog{store: p.Store, step: PhaseIngest}

	var (
		mu  sync.Mutex
		out Outcome
	)

	for _, adapter := range p.Adapters {
		var items []ingest.Item

		err := adapter.Discover(ctx, func(item ingest.Item) error {
			items = append(items, item)
			return nil
		})
		if err != nil {
			events.failure(ctx, fmt.Sprintf("source %s: discovery failed: %v",
				adapter.Tag(), err), "", "")

			return timed(start, out), fmt.Errorf("ingest: source %s: %w", adapter.Tag(), err)
		}

		p.Logger.Info("source discovered",
			slog.String("source", string(adapter.Tag())),
			slog.Int("items", len(items)),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.Workers)

		for _, item := range items {
			g.Go(func() error {
				mu.Lock()
				out.Processed++
				mu.Unlock()

				localPath, err := adapter.Fetch(gctx, item)
				if err != nil {
					p.Logger.Warn("fetch failed",
						slog.String("ref", item.Ref), slog.Any("error", err))
					events.failure(gctx, fmt.Sprintf("fetch %s: %v", item.Ref, err), "", "")

					mu.Lock()
					out.Failed++
					mu.Unlock()

					return nil
				}

				id, err := p.Store.UpsertFile(gctx, &store.MediaFile{
					Filename:   filepath.Base(localPath),
					Path:       localPath,
					SourcePath: item.Ref,
					SourceType: adapter.Tag(),
					Size:       item.Size,
					Status:     store.StatusDownloaded,
				})
				if err != nil {
					events.failure(gctx, fmt.Sprintf("register %s: %v", localPath, err), "", "")

					mu.Lock()
					out.Failed++
					mu.Unlock()

					return nil
				}

				events.success(gctx, fmt.Sprintf("registered %s", filepath.Base(localPath)), id, "")

				mu.Lock()
				out.Succeeded++
				mu.Unlock()

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return timed(start, out), fmt.Errorf("ingest: %w", err)
		}
	}

	return timed(start, out), nil
}
