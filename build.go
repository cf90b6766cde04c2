package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"

	"github.com/nharju/photobridge/internal/config"
	"github.com/nharju/photobridge/internal/gphotos"
	"github.com/nharju/photobridge/internal/hashindex"
	"github.com/nharju/photobridge/internal/icloud"
	"github.com/nharju/photobridge/internal/ingest"
	"github.com/nharju/photobridge/internal/media"
	"github.com/nharju/photobridge/internal/mirror"
	"github.com/nharju/photobridge/internal/pipeline"
	"github.com/nharju/photobridge/internal/store"
	"github.com/nharju/photobridge/internal/syncthing"
	"github.com/nharju/photobridge/pkg/exifdate"
)

// icloudStagingDirName is where the external downloader parks files before
// the ingest phase moves them into the originals tree.
const icloudStagingDirName = ".staging-icloud"

// runtime is the assembled application: the store, the background
// services, and the orchestrator wired over them. Close stops the
// background services and the store.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	store  *store.Store
	mirror *mirror.Mirror
	index  *hashindex.Index
	orch   *pipeline.Orchestrator

	// icloudAdapter is non-nil when the cloud source is enabled; the run
	// command watches its 2FA channel.
	icloudAdapter *ingest.ICloudAdapter

	cancelBG context.CancelFunc
}

// runOptions are the run command's knobs.
type runOptions struct {
	only    string
	inspect bool
}

// buildRuntime opens the store and wires every pipeline component from the
// configuration. Background services (mirror flusher, hash index feed)
// start immediately.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts runOptions) (*runtime, error) {
	s, err := store.Open(cfg.Stores.LocalDBPath, logger)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger, store: s}

	// Background services outlive a single orchestrator run (watch mode
	// runs many) and stop at Close.
	bgCtx, cancel := context.WithCancel(context.Background())
	rt.cancelBG = cancel

	rt.index = hashindex.New(s, logger)
	if err := rt.index.Warm(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	go rt.index.Run(bgCtx)

	if cfg.MirrorEnabled() {
		rt.mirror = mirror.New(s, cfg.Stores.RemoteDBURL, cfg.Stores.RemoteDBKey,
			cfg.Stores.MirrorQueueCap, cfg.Stores.MirrorFlushInterval, logger)

		go rt.mirror.Run(bgCtx)
	}

	orch, err := rt.buildOrchestrator(ctx, opts)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.orch = orch

	return rt, nil
}

// Close stops background services and the store.
func (rt *runtime) Close() {
	rt.cancelBG()
	rt.store.Close()
}

func (rt *runtime) buildOrchestrator(ctx context.Context, opts runOptions) (*pipeline.Orchestrator, error) {
	cfg, logger := rt.cfg, rt.logger

	notifier := pipeline.LogNotifier{Logger: logger}

	uploadPhase, err := rt.buildUploadPhase(opts)
	if err != nil {
		return nil, err
	}

	orch := &pipeline.Orchestrator{
		Store: rt.store,
		Phases: []pipeline.Phase{
			rt.buildIngestPhase(),
			&pipeline.DedupePhase{
				Store:      rt.store,
				Index:      rt.index,
				Algorithm:  cfg.Dedupe.HashAlgorithm,
				CleanupDir: cfg.Layout.CleanupDir,
				Workers:    cfg.Workers,
				On:         cfg.Toggles.Deduplication,
				Logger:     logger,
			},
			&pipeline.CompressPhase{
				Store:         rt.store,
				Cfg:           cfg.Compression,
				CompressedDir: cfg.Layout.CompressedDir,
				Transcoder:    &media.Transcoder{FFmpeg: "ffmpeg", Logger: logger},
				Dates:         &exifdate.Extractor{Probe: exifdate.FFProbe("ffprobe")},
				Workers:       cfg.Workers,
				On:            cfg.Toggles.Compression,
				Logger:        logger,
			},
			rt.buildStagePhase(),
			uploadPhase,
			&pipeline.SyncPixelPhase{
				Store:       rt.store,
				Client:      syncthing.NewClient(cfg.PixelSync.APIURL, cfg.PixelSync.APIKey, logger),
				FolderID:    cfg.PixelSync.FolderID,
				Poll:        cfg.PixelSync.PollInterval,
				Timeout:     cfg.PixelSync.Timeout,
				BridgeDir:   cfg.Layout.BridgePixelDir,
				UploadedDir: cfg.Layout.UploadedPixelDir,
				On:          cfg.Toggles.PixelUpload,
				Logger:      logger,
			},
			&pipeline.VerifyPhase{
				Store:   rt.store,
				Checker: rt.buildChecker(ctx),
				On:      cfg.Toggles.Verification,
				Logger:  logger,
			},
			&pipeline.SortPhase{
				Store:     rt.store,
				SortedDir: cfg.Layout.SortedDir,
				Dates:     &exifdate.Extractor{Probe: exifdate.FFProbe("ffprobe")},
				Algorithm: cfg.Dedupe.HashAlgorithm,
				On:        cfg.Toggles.Sorting,
				Logger:    logger,
			},
		},
		Only:     opts.only,
		Notifier: notifier,
		Logger:   logger,
	}

	if rt.mirror != nil {
		orch.Mirror = rt.mirror
	}

	return orch, nil
}

func (rt *runtime) buildIngestPhase() *pipeline.IngestPhase {
	cfg, logger := rt.cfg, rt.logger

	var adapters []ingest.Adapter

	if cfg.Toggles.FolderDownload && len(cfg.Ingest.FolderDownloadDirs) > 0 {
		adapters = append(adapters,
			ingest.NewFolderAdapter(cfg.Ingest.FolderDownloadDirs, cfg.Layout.OriginalsDir, logger))
	}

	if cfg.Toggles.ICloudDownload && cfg.Ingest.ICloudDownloaderCmd != "" {
		staging := filepath.Join(cfg.Layout.OriginalsDir, icloudStagingDirName)
		rt.icloudAdapter = ingest.NewICloudAdapter(
			cfg.Ingest.ICloudDownloaderCmd, staging, cfg.Layout.OriginalsDir,
			cfg.Ingest.TwoFATimeout, logger)
		adapters = append(adapters, rt.icloudAdapter)
	}

	return &pipeline.IngestPhase{
		Store:    rt.store,
		Adapters: adapters,
		Workers:  cfg.Workers,
		On:       cfg.AnyIngestEnabled(),
		Logger:   logger,
	}
}

func (rt *runtime) buildStagePhase() *pipeline.StagePhase {
	cfg := rt.cfg

	var dests []pipeline.StageDest

	if cfg.Toggles.ICloudUpload {
		dests = append(dests, pipeline.StageDest{
			Dest: store.DestICloud, Dir: cfg.Layout.BridgeICloudDir,
		})
	}

	if cfg.Toggles.PixelUpload {
		dests = append(dests, pipeline.StageDest{
			Dest: store.DestPixel, Dir: cfg.Layout.BridgePixelDir,
		})
	}

	return &pipeline.StagePhase{
		Store:     rt.store,
		Bridge:    cfg.Bridge,
		Algorithm: cfg.Dedupe.HashAlgorithm,
		Dests:     dests,
		On:        cfg.Toggles.FilePreparation,
		Logger:    rt.logger,
	}
}

func (rt *runtime) buildUploadPhase(opts runOptions) (*pipeline.UploadICloudPhase, error) {
	cfg, logger := rt.cfg, rt.logger

	candidates, err := icloud.LoadSelectors(cfg.Uploader.SelectorsFile)
	if err != nil {
		return nil, err
	}

	return &pipeline.UploadICloudPhase{
		Store: rt.store,
		Agent: icloud.NewBrowserAgent(cfg.Uploader.Headless, logger),
		Resolver: &icloud.Resolver{
			Override:   cfg.Uploader.Selector,
			Candidates: candidates,
			Timeout:    cfg.Uploader.UploadTimeout,
			Logger:     logger,
		},
		SessionFile:   cfg.SessionFilePath(),
		BridgeDir:     cfg.Layout.BridgeICloudDir,
		UploadedDir:   cfg.Layout.UploadedICloudDir,
		UploadTimeout: cfg.Uploader.UploadTimeout,
		RetryAttempts: cfg.Uploader.RetryAttempts,
		RetryDelay:    cfg.Uploader.RetryDelay,
		Inspect:       opts.inspect,
		Output:        os.Stdout,
		Progress:      isatty.IsTerminal(os.Stdout.Fd()) && !flagQuiet,
		On:            cfg.Toggles.ICloudUpload,
		Logger:        logger,
	}, nil
}

func (rt *runtime) buildChecker(ctx context.Context) *gphotos.Checker {
	cfg := rt.cfg

	if !cfg.Verify.GPhotosSyncCheck {
		return gphotos.Disabled()
	}

	checker, err := gphotos.New(ctx, cfg.Verify.GPhotosTokenFile, rt.logger)
	if err != nil {
		rt.logger.Warn("destination check unavailable, uploads will be trusted",
			slog.Any("error", err))

		return gphotos.Disabled()
	}

	return checker
}
