// Package config implements KEY=VALUE configuration loading, validation, and
// directory-layout resolution for photobridge. A single file (path from the
// CONFIG_PATH environment variable) configures every pipeline phase; values
// are decoded into one typed Config with explicit per-field parsing so that a
// typo'd enum or a missing required path fails fast with ErrConfig instead of
// surfacing as odd behavior three phases later.
package config

import "time"

// Config is the fully parsed and validated pipeline configuration.
// Construct it only through Load or Resolve; the zero value is not usable.
type Config struct {
	Toggles     Toggles
	Layout      Layout
	Ingest      IngestConfig
	Dedupe      DedupeConfig
	Compression CompressionConfig
	Bridge      BridgeConfig
	Uploader    UploaderConfig
	PixelSync   PixelSyncConfig
	Stores      StoresConfig
	Verify      VerifyConfig
	Logging     LoggingConfig

	// Workers bounds each phase's worker group (PIPELINE_WORKERS).
	Workers int

	// WatchInterval is the periodic full-run cadence in watch mode.
	WatchInterval time.Duration
}

// Toggles gates individual pipeline phases. A disabled phase is a recorded
// no-op: it transitions nothing and reports zero counts.
type Toggles struct {
	ICloudDownload  bool // ENABLE_ICLOUD_DOWNLOAD
	FolderDownload  bool // ENABLE_FOLDER_DOWNLOAD
	Deduplication   bool // ENABLE_DEDUPLICATION
	Compression     bool // ENABLE_COMPRESSION
	FilePreparation bool // ENABLE_FILE_PREPARATION (bridge staging)
	ICloudUpload    bool // ENABLE_ICLOUD_UPLOAD
	PixelUpload     bool // ENABLE_PIXEL_UPLOAD
	Verification    bool // ENABLE_VERIFICATION
	Sorting         bool // ENABLE_SORTING
}

// Layout is the on-disk directory tree rooted at the NAS mount. Individual
// directories default to well-known names under NASMount and may be
// overridden key by key.
type Layout struct {
	NASMount          string // NAS_MOUNT (required)
	OriginalsDir      string // ORIGINALS_DIR
	CompressedDir     string // COMPRESSED_DIR
	BridgeICloudDir   string // BRIDGE_ICLOUD_DIR
	BridgePixelDir    string // BRIDGE_PIXEL_DIR
	UploadedICloudDir string // UPLOADED_ICLOUD_DIR
	UploadedPixelDir  string // UPLOADED_PIXEL_DIR
	SortedDir         string // SORTED_DIR
	CleanupDir        string // CLEANUP_DIR
	PixelSyncFolder   string // PIXEL_SYNC_FOLDER (syncthing-watched dir)
}

// IngestConfig selects and parameterizes the source adapters.
type IngestConfig struct {
	// FolderDownloadDirs are extra directories swept by the folder adapter
	// (FOLDER_DOWNLOAD_DIRS, comma-separated).
	FolderDownloadDirs []string

	// ICloudDownloaderCmd is the external downloader binary driven by the
	// cloud-photo adapter (ICLOUD_DOWNLOADER_CMD, icloudpd-compatible).
	ICloudDownloaderCmd string

	// TwoFATimeout bounds the wait for an out-of-band 2FA code
	// (ICLOUD_2FA_TIMEOUT seconds).
	TwoFATimeout time.Duration
}

// DedupeConfig controls content hashing.
type DedupeConfig struct {
	// HashAlgorithm is md5 or sha256 (DEDUPLICATION_HASH_ALGORITHM).
	HashAlgorithm string
}

// Hash algorithm enum values.
const (
	HashMD5    = "md5"
	HashSHA256 = "sha256"
)

// CompressionConfig holds the age-tiered recompression policy. Files whose
// capture date falls within IntervalYears get the initial (gentler)
// parameters; older files get the subsequent (more aggressive) ones.
type CompressionConfig struct {
	JPEGQuality         int    // JPEG_QUALITY (1-100)
	VideoCRF            int    // VIDEO_CRF
	VideoPreset         string // VIDEO_PRESET (x264 preset enum)
	IntervalYears       int    // COMPRESSION_INTERVAL_YEARS
	InitialResizePct    int    // INITIAL_RESIZE_PERCENTAGE (1-100)
	SubsequentResizePct int    // SUBSEQUENT_RESIZE_PERCENTAGE (1-100)
	InitialVideoRes     int    // INITIAL_VIDEO_RESOLUTION (lines)
	SubsequentVideoRes  int    // SUBSEQUENT_VIDEO_RESOLUTION (lines)
}

// BridgeConfig caps batch shipments staged into the per-destination
// bridge directories.
type BridgeConfig struct {
	MaxBatchBytes int64 // parsed from MAX_BATCH_SIZE_GB (decimal GB)
	MaxBatchFiles int   // MAX_BATCH_FILES

	// ClearBridgeBeforeProcessing removes already-uploaded leftovers from a
	// bridge before staging (CLEAR_BRIDGE_BEFORE_PROCESSING).
	ClearBridgeBeforeProcessing bool
}

// UploaderConfig parameterizes the browser-automation uploader.
type UploaderConfig struct {
	RetryAttempts int           // UPLOAD_RETRY_ATTEMPTS (>=0)
	RetryDelay    time.Duration // UPLOAD_RETRY_DELAY seconds
	UploadTimeout time.Duration // ICLOUD_UPLOAD_TIMEOUT seconds

	// Selector, when set, is tried before the bundled candidate list
	// (ICLOUD_UPLOAD_SELECTOR).
	Selector string

	// SessionFile is the persisted cookie jar (ICLOUD_SESSION_FILE).
	SessionFile string

	// SelectorsFile optionally overrides the bundled uploadButtonSelectors
	// list (ICLOUD_SELECTORS_FILE, JSON).
	SelectorsFile string

	// Headless hides the browser window (PUPPETEER_HEADLESS; the key name is
	// kept for compatibility with existing deployments).
	Headless bool
}

// PixelSyncConfig points at the file-sync daemon watching the pixel bridge.
type PixelSyncConfig struct {
	APIURL       string        // SYNCTHING_API_URL
	APIKey       string        // SYNCTHING_API_KEY
	FolderID     string        // SYNCTHING_FOLDER_ID
	Timeout      time.Duration // PIXEL_SYNC_TIMEOUT seconds (total budget)
	PollInterval time.Duration // PIXEL_SYNC_POLL_INTERVAL seconds
}

// StoresConfig configures the local metadata store and its remote mirror.
type StoresConfig struct {
	LocalDBPath string // LOCAL_DB_PATH (required)
	RemoteDBURL string // REMOTE_DB_URL (empty disables the mirror)
	RemoteDBKey string // REMOTE_DB_KEY

	MirrorQueueCap      int           // MIRROR_QUEUE_CAP
	MirrorFlushInterval time.Duration // MIRROR_FLUSH_INTERVAL seconds
}

// VerifyConfig enables the optional destination-side presence check.
type VerifyConfig struct {
	GPhotosSyncCheck bool   // GPHOTOS_SYNC_CHECK
	GPhotosTokenFile string // GPHOTOS_TOKEN_FILE
}

// LoggingConfig controls operator-facing slog output. Pipeline events always
// also land in the metadata store's log table regardless of these settings.
type LoggingConfig struct {
	Level         string // LOG_LEVEL: debug|info|warn|error
	Format        string // LOG_FORMAT: text|json
	Verbose       bool   // VERBOSE_LOGGING forces debug
	RetentionDays int    // LOG_RETENTION_DAYS (log table pruning window)
}

// MirrorEnabled reports whether a remote mirror is configured.
func (c *Config) MirrorEnabled() bool {
	return c.Stores.RemoteDBURL != ""
}

// AnyIngestEnabled reports whether at least one source adapter is on.
func (c *Config) AnyIngestEnabled() bool {
	return c.Toggles.ICloudDownload || c.Toggles.FolderDownload
}
