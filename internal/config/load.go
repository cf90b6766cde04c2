package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// ErrConfig wraps every configuration failure: unreadable file, malformed
// value, or failed validation. Callers match it with errors.Is.
var ErrConfig = errors.New("config: invalid configuration")

// Load reads, decodes, and validates the configuration file at path. An
// empty path falls back to the CONFIG_PATH environment variable and then to
// DefaultConfigPath. Unknown keys are logged at warn level and otherwise
// ignored: the file is shared with companion tooling that reads its own
// keys from it.
func Load(path string, logger *slog.Logger) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	raw, err := godotenv.Read(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: file %s does not exist", ErrConfig, resolved)
		}
		return nil, fmt.Errorf("%w: reading %s: %w", ErrConfig, resolved, err)
	}

	cfg, err := decode(raw)
	if err != nil {
		return nil, err
	}

	if unknown := cfg.unknown; len(unknown) > 0 {
		logger.Warn("ignoring unknown configuration keys", "file", resolved, "keys", unknown)
	}

	if err := cfg.c.Validate(); err != nil {
		return nil, err
	}
	return cfg.c, nil
}

// resolvePath picks the effective config file path.
func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env, nil
	}
	if p := DefaultConfigPath(); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("%w: no config path given and no home directory to derive one", ErrConfig)
}

// decoded pairs a parsed Config with the unknown keys encountered while
// decoding, so Load can report them after parse errors are ruled out.
type decoded struct {
	c       *Config
	unknown []string
}

// decode maps raw file keys onto a defaulted Config. Parse failures
// accumulate; the first return is only meaningful when err is nil.
func decode(raw map[string]string) (*decoded, error) {
	d := newDecoder(raw)
	c := Default()

	c.Toggles.ICloudDownload = d.boolean("ENABLE_ICLOUD_DOWNLOAD", c.Toggles.ICloudDownload)
	c.Toggles.FolderDownload = d.boolean("ENABLE_FOLDER_DOWNLOAD", c.Toggles.FolderDownload)
	c.Toggles.Deduplication = d.boolean("ENABLE_DEDUPLICATION", c.Toggles.Deduplication)
	c.Toggles.Compression = d.boolean("ENABLE_COMPRESSION", c.Toggles.Compression)
	c.Toggles.FilePreparation = d.boolean("ENABLE_FILE_PREPARATION", c.Toggles.FilePreparation)
	c.Toggles.ICloudUpload = d.boolean("ENABLE_ICLOUD_UPLOAD", c.Toggles.ICloudUpload)
	c.Toggles.PixelUpload = d.boolean("ENABLE_PIXEL_UPLOAD", c.Toggles.PixelUpload)
	c.Toggles.Verification = d.boolean("ENABLE_VERIFICATION", c.Toggles.Verification)
	c.Toggles.Sorting = d.boolean("ENABLE_SORTING", c.Toggles.Sorting)

	c.Layout.NASMount = d.str("NAS_MOUNT", "")
	c.Layout.OriginalsDir = d.str("ORIGINALS_DIR", "")
	c.Layout.CompressedDir = d.str("COMPRESSED_DIR", "")
	c.Layout.BridgeICloudDir = d.str("BRIDGE_ICLOUD_DIR", "")
	c.Layout.BridgePixelDir = d.str("BRIDGE_PIXEL_DIR", "")
	c.Layout.UploadedICloudDir = d.str("UPLOADED_ICLOUD_DIR", "")
	c.Layout.UploadedPixelDir = d.str("UPLOADED_PIXEL_DIR", "")
	c.Layout.SortedDir = d.str("SORTED_DIR", "")
	c.Layout.CleanupDir = d.str("CLEANUP_DIR", "")
	c.Layout.PixelSyncFolder = d.str("PIXEL_SYNC_FOLDER", "")

	c.Ingest.FolderDownloadDirs = d.list("FOLDER_DOWNLOAD_DIRS")
	c.Ingest.ICloudDownloaderCmd = d.str("ICLOUD_DOWNLOADER_CMD", c.Ingest.ICloudDownloaderCmd)
	c.Ingest.TwoFATimeout = d.seconds("ICLOUD_2FA_TIMEOUT", c.Ingest.TwoFATimeout)

	c.Dedupe.HashAlgorithm = d.enum("DEDUPLICATION_HASH_ALGORITHM", c.Dedupe.HashAlgorithm, HashMD5, HashSHA256)

	c.Compression.JPEGQuality = d.integer("JPEG_QUALITY", c.Compression.JPEGQuality)
	c.Compression.VideoCRF = d.integer("VIDEO_CRF", c.Compression.VideoCRF)
	c.Compression.VideoPreset = d.str("VIDEO_PRESET", c.Compression.VideoPreset)
	c.Compression.IntervalYears = d.integer("COMPRESSION_INTERVAL_YEARS", c.Compression.IntervalYears)
	c.Compression.InitialResizePct = d.integer("INITIAL_RESIZE_PERCENTAGE", c.Compression.InitialResizePct)
	c.Compression.SubsequentResizePct = d.integer("SUBSEQUENT_RESIZE_PERCENTAGE", c.Compression.SubsequentResizePct)
	c.Compression.InitialVideoRes = d.integer("INITIAL_VIDEO_RESOLUTION", c.Compression.InitialVideoRes)
	c.Compression.SubsequentVideoRes = d.integer("SUBSEQUENT_VIDEO_RESOLUTION", c.Compression.SubsequentVideoRes)

	c.Bridge.MaxBatchBytes = gbToBytes(d.float("MAX_BATCH_SIZE_GB", DefaultMaxBatchSizeGB))
	c.Bridge.MaxBatchFiles = d.integer("MAX_BATCH_FILES", c.Bridge.MaxBatchFiles)
	c.Bridge.ClearBridgeBeforeProcessing = d.boolean("CLEAR_BRIDGE_BEFORE_PROCESSING", c.Bridge.ClearBridgeBeforeProcessing)

	c.Uploader.RetryAttempts = d.integer("UPLOAD_RETRY_ATTEMPTS", c.Uploader.RetryAttempts)
	c.Uploader.RetryDelay = d.seconds("UPLOAD_RETRY_DELAY", c.Uploader.RetryDelay)
	c.Uploader.UploadTimeout = d.seconds("ICLOUD_UPLOAD_TIMEOUT", c.Uploader.UploadTimeout)
	c.Uploader.Selector = d.str("ICLOUD_UPLOAD_SELECTOR", "")
	c.Uploader.SessionFile = d.str("ICLOUD_SESSION_FILE", "")
	c.Uploader.SelectorsFile = d.str("ICLOUD_SELECTORS_FILE", "")
	c.Uploader.Headless = d.boolean("PUPPETEER_HEADLESS", c.Uploader.Headless)

	c.PixelSync.APIURL = d.str("SYNCTHING_API_URL", "")
	c.PixelSync.APIKey = d.str("SYNCTHING_API_KEY", "")
	c.PixelSync.FolderID = d.str("SYNCTHING_FOLDER_ID", "")
	c.PixelSync.Timeout = d.seconds("PIXEL_SYNC_TIMEOUT", c.PixelSync.Timeout)
	c.PixelSync.PollInterval = d.seconds("PIXEL_SYNC_POLL_INTERVAL", c.PixelSync.PollInterval)

	c.Stores.LocalDBPath = d.str("LOCAL_DB_PATH", "")
	c.Stores.RemoteDBURL = d.str("REMOTE_DB_URL", "")
	c.Stores.RemoteDBKey = d.str("REMOTE_DB_KEY", "")
	c.Stores.MirrorQueueCap = d.integer("MIRROR_QUEUE_CAP", c.Stores.MirrorQueueCap)
	c.Stores.MirrorFlushInterval = d.seconds("MIRROR_FLUSH_INTERVAL", c.Stores.MirrorFlushInterval)

	c.Verify.GPhotosSyncCheck = d.boolean("GPHOTOS_SYNC_CHECK", c.Verify.GPhotosSyncCheck)
	c.Verify.GPhotosTokenFile = d.str("GPHOTOS_TOKEN_FILE", "")

	c.Logging.Level = d.enum("LOG_LEVEL", c.Logging.Level, "debug", "info", "warn", "error")
	c.Logging.Format = d.enum("LOG_FORMAT", c.Logging.Format, "text", "json")
	c.Logging.Verbose = d.boolean("VERBOSE_LOGGING", c.Logging.Verbose)
	c.Logging.RetentionDays = d.integer("LOG_RETENTION_DAYS", c.Logging.RetentionDays)

	c.Workers = d.integer("PIPELINE_WORKERS", c.Workers)
	c.WatchInterval = d.seconds("WATCH_INTERVAL", c.WatchInterval)

	if err := d.err(); err != nil {
		return nil, err
	}

	c.applyLayoutDefaults()
	return &decoded{c: c, unknown: d.unknownKeys()}, nil
}
