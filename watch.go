package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/nharju/photobridge/internal/config"
)

// watchDebounce coalesces filesystem event bursts (a camera import drops
// hundreds of files) into a single pipeline run.
const watchDebounce = 2 * time.Second

// watchPIDFileName guards against two watchers over the same store.
const watchPIDFileName = "photobridge.pid"

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run continuously, triggering on new files and a timer",
		Long: "Watches the originals tree and the folder-download directories " +
			"for new files and additionally runs on a fixed interval. Runs are " +
			"serial; SIGINT/SIGTERM stop cleanly after the current run.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger(loadedCfg)
			ctx := shutdownContext(cmd.Context(), logger)

			cleanup, err := writePIDFile(filepath.Join(config.DefaultDataDir(), watchPIDFileName))
			if err != nil {
				return err
			}
			defer cleanup()

			rt, err := buildRuntime(ctx, loadedCfg, logger, runOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			return watchLoop(ctx, rt, logger)
		},
	}
}

// watchLoop blocks until ctx cancels, running the full graph whenever the
// debounced trigger fires.
func watchLoop(ctx context.Context, rt *runtime, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dirs := append([]string{rt.cfg.Layout.OriginalsDir}, rt.cfg.Ingest.FolderDownloadDirs...)

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}

		if err := watcher.Add(dir); err != nil {
			return err
		}

		logger.Debug("watching directory", slog.String("dir", dir))
	}

	ticker := time.NewTicker(rt.cfg.WatchInterval)
	defer ticker.Stop()

	// The debounce timer is armed by events and fires the run trigger.
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	// Immediate first run: whatever accumulated while the watcher was down
	// should not wait for the interval.
	runOnce(ctx, rt, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("watch mode stopping")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Rename) {
				debounce.Reset(watchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("watcher error", slog.Any("error", err))

		case <-debounce.C:
			runOnce(ctx, rt, logger)

		case <-ticker.C:
			runOnce(ctx, rt, logger)
		}
	}
}

// runOnce executes one full pipeline run; failures are logged and the
// watcher keeps going.
func runOnce(ctx context.Context, rt *runtime, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}

	report, err := rt.orch.Run(ctx)
	if err != nil {
		logger.Error("pipeline run failed", slog.Any("error", err))
	}

	if !flagQuiet {
		report.Render(os.Stdout)
	}
}
