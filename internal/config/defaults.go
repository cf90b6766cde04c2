package config

import "time"

// Defaults applied by Load for keys absent from the configuration file.
// Required keys (NAS_MOUNT, LOCAL_DB_PATH) have no default and fail
// validation when missing.
const (
	// DefaultHashAlgorithm is the content-hash function for deduplication.
	DefaultHashAlgorithm = HashSHA256

	// DefaultJPEGQuality is the libjpeg-style quality for recompressed images.
	DefaultJPEGQuality = 85

	// DefaultVideoCRF is the x264 constant rate factor for transcodes.
	DefaultVideoCRF = 28

	// DefaultVideoPreset is the x264 speed/size preset.
	DefaultVideoPreset = "medium"

	// DefaultIntervalYears splits recent from old media for the tiered
	// compression policy.
	DefaultIntervalYears = 2

	// DefaultInitialResizePct is the resize percentage for recent media.
	DefaultInitialResizePct = 75

	// DefaultSubsequentResizePct is the resize percentage for old media.
	DefaultSubsequentResizePct = 50

	// DefaultInitialVideoRes caps recent video height in lines.
	DefaultInitialVideoRes = 1080

	// DefaultSubsequentVideoRes caps old video height in lines.
	DefaultSubsequentVideoRes = 720

	// DefaultMaxBatchSizeGB caps a staged batch's total payload.
	DefaultMaxBatchSizeGB = 5.0

	// DefaultMaxBatchFiles caps a staged batch's file count.
	DefaultMaxBatchFiles = 500

	// DefaultUploadRetryAttempts is the retry budget per upload batch.
	DefaultUploadRetryAttempts = 3

	// DefaultUploadRetryDelay is the base delay between upload retries.
	DefaultUploadRetryDelay = 30 * time.Second

	// DefaultUploadTimeout bounds one browser upload session.
	DefaultUploadTimeout = 30 * time.Minute

	// DefaultPixelSyncTimeout bounds the wait for the sync daemon to settle.
	DefaultPixelSyncTimeout = 30 * time.Minute

	// DefaultPixelSyncPollInterval is the sync-status poll cadence.
	DefaultPixelSyncPollInterval = 5 * time.Second

	// DefaultTwoFATimeout bounds the wait for an interactive 2FA code.
	DefaultTwoFATimeout = 5 * time.Minute

	// DefaultICloudDownloaderCmd is the external downloader binary name.
	DefaultICloudDownloaderCmd = "icloudpd"

	// DefaultMirrorQueueCap bounds the in-memory mirror replication queue.
	DefaultMirrorQueueCap = 1000

	// DefaultMirrorFlushInterval is the background mirror flush cadence.
	DefaultMirrorFlushInterval = 30 * time.Second

	// DefaultWorkers bounds per-phase concurrency.
	DefaultWorkers = 4

	// DefaultWatchInterval is the periodic full-run cadence in watch mode.
	DefaultWatchInterval = 5 * time.Minute

	// DefaultLogLevel is the operator log threshold.
	DefaultLogLevel = "info"

	// DefaultLogFormat selects text or json slog handlers.
	DefaultLogFormat = "text"

	// DefaultLogRetentionDays is the pruning window for the log table.
	DefaultLogRetentionDays = 30

	// DefaultSessionFile is the persisted browser cookie jar. Relative to
	// the user config dir when not absolute.
	DefaultSessionFile = "icloud-session.json"
)

// Directory names created under NAS_MOUNT when the corresponding *_DIR key
// is not set.
const (
	dirOriginals      = "originals"
	dirCompressed     = "compressed"
	dirBridgeICloud   = "bridge/icloud"
	dirBridgePixel    = "bridge/pixel"
	dirUploadedICloud = "uploaded/icloud"
	dirUploadedPixel  = "uploaded/pixel"
	dirSorted         = "sorted"
	dirCleanup        = "cleanup"
)

// defaultToggles enables the full pipeline. Deployments narrow it down;
// a fresh config with only the required keys runs everything.
func defaultToggles() Toggles {
	return Toggles{
		ICloudDownload:  true,
		FolderDownload:  false,
		Deduplication:   true,
		Compression:     true,
		FilePreparation: true,
		ICloudUpload:    true,
		PixelUpload:     true,
		Verification:    true,
		Sorting:         true,
	}
}

// Default returns a Config with every optional field at its default and
// required fields empty. Callers must fill Layout.NASMount and
// Stores.LocalDBPath before Validate passes.
func Default() *Config {
	return &Config{
		Toggles: defaultToggles(),
		Ingest: IngestConfig{
			ICloudDownloaderCmd: DefaultICloudDownloaderCmd,
			TwoFATimeout:        DefaultTwoFATimeout,
		},
		Dedupe: DedupeConfig{
			HashAlgorithm: DefaultHashAlgorithm,
		},
		Compression: CompressionConfig{
			JPEGQuality:         DefaultJPEGQuality,
			VideoCRF:            DefaultVideoCRF,
			VideoPreset:         DefaultVideoPreset,
			IntervalYears:       DefaultIntervalYears,
			InitialResizePct:    DefaultInitialResizePct,
			SubsequentResizePct: DefaultSubsequentResizePct,
			InitialVideoRes:     DefaultInitialVideoRes,
			SubsequentVideoRes:  DefaultSubsequentVideoRes,
		},
		Bridge: BridgeConfig{
			MaxBatchBytes: gbToBytes(DefaultMaxBatchSizeGB),
			MaxBatchFiles: DefaultMaxBatchFiles,
		},
		Uploader: UploaderConfig{
			RetryAttempts: DefaultUploadRetryAttempts,
			RetryDelay:    DefaultUploadRetryDelay,
			UploadTimeout: DefaultUploadTimeout,
			Headless:      true,
		},
		PixelSync: PixelSyncConfig{
			Timeout:      DefaultPixelSyncTimeout,
			PollInterval: DefaultPixelSyncPollInterval,
		},
		Stores: StoresConfig{
			MirrorQueueCap:      DefaultMirrorQueueCap,
			MirrorFlushInterval: DefaultMirrorFlushInterval,
		},
		Logging: LoggingConfig{
			Level:         DefaultLogLevel,
			Format:        DefaultLogFormat,
			RetentionDays: DefaultLogRetentionDays,
		},
		Workers:       DefaultWorkers,
		WatchInterval: DefaultWatchInterval,
	}
}

// gbToBytes converts a decimal-gigabyte budget into bytes.
func gbToBytes(gb float64) int64 {
	return int64(gb * 1000 * 1000 * 1000)
}
