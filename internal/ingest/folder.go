package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/nharju/photobridge/internal/media"
	"github.com/nharju/photobridge/internal/store"
)

// FolderAdapter sweeps configured local directories for media files and
// copies them into the originals tree. It covers both watched hot folders
// and the extra deduplication sweep directories from older deployments.
type FolderAdapter struct {
	dirs         []string
	originalsDir string
	logger       *slog.Logger
}

// NewFolderAdapter builds an adapter sweeping dirs into originalsDir.
func NewFolderAdapter(dirs []string, originalsDir string, logger *slog.Logger) *FolderAdapter {
	return &FolderAdapter{
		dirs:         dirs,
		originalsDir: originalsDir,
		logger:       logger,
	}
}

// Tag implements Adapter.
func (a *FolderAdapter) Tag() store.SourceType {
	return store.SourceFolder
}

// Discover walks every sweep directory, emitting media files. Hidden
// entries and non-media extensions are skipped; a missing sweep directory
// is logged and skipped rather than failing the whole walk.
func (a *FolderAdapter) Discover(ctx context.Context, emit func(Item) error) error {
	for _, dir := range a.dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir {
					a.logger.Warn("sweep directory unavailable",
						slog.String("dir", dir), slog.Any("error", err))
					return filepath.SkipAll
				}

				a.logger.Warn("skipping unreadable entry",
					slog.String("path", path), slog.Any("error", err))
				return nil
			}

			if ctx.Err() != nil {
				return ctx.Err()
			}

			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != dir {
					return filepath.SkipDir
				}
				return nil
			}

			if strings.HasPrefix(d.Name(), ".") || !media.IsMedia(path) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				a.logger.Warn("skipping unstattable file",
					slog.String("path", path), slog.Any("error", err))
				return nil
			}

			return emit(Item{Ref: path, LocalPath: path, Size: info.Size()})
		})
		if err != nil {
			return fmt.Errorf("ingest: sweeping %s: %w", dir, err)
		}
	}

	return nil
}

// Fetch copies the discovered file into the originals directory.
func (a *FolderAdapter) Fetch(_ context.Context, item Item) (string, error) {
	return copyInto(item.LocalPath, a.originalsDir)
}
