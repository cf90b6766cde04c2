package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// applyLayoutDefaults fills unset layout directories with well-known names
// under the NAS mount. Called after decode so explicit *_DIR keys win.
// NASMount may still be empty here; Validate catches that.
func (c *Config) applyLayoutDefaults() {
	def := func(field *string, name string) {
		if *field == "" && c.Layout.NASMount != "" {
			*field = filepath.Join(c.Layout.NASMount, name)
		}
	}
	def(&c.Layout.OriginalsDir, dirOriginals)
	def(&c.Layout.CompressedDir, dirCompressed)
	def(&c.Layout.BridgeICloudDir, dirBridgeICloud)
	def(&c.Layout.BridgePixelDir, dirBridgePixel)
	def(&c.Layout.UploadedICloudDir, dirUploadedICloud)
	def(&c.Layout.UploadedPixelDir, dirUploadedPixel)
	def(&c.Layout.SortedDir, dirSorted)
	def(&c.Layout.CleanupDir, dirCleanup)
	if c.Layout.PixelSyncFolder == "" {
		c.Layout.PixelSyncFolder = c.Layout.BridgePixelDir
	}
}

// Validate checks every constraint at once and reports all violations in a
// single ErrConfig-wrapped error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Layout.NASMount == "" {
		add("NAS_MOUNT is required")
	}
	if c.Stores.LocalDBPath == "" {
		add("LOCAL_DB_PATH is required")
	}
	if c.Stores.RemoteDBURL != "" && c.Stores.RemoteDBKey == "" {
		add("REMOTE_DB_KEY is required when REMOTE_DB_URL is set")
	}

	if q := c.Compression.JPEGQuality; q < 1 || q > 100 {
		add("JPEG_QUALITY must be between 1 and 100, got %d", q)
	}
	if crf := c.Compression.VideoCRF; crf < 0 || crf > 51 {
		add("VIDEO_CRF must be between 0 and 51, got %d", crf)
	}
	if y := c.Compression.IntervalYears; y < 0 {
		add("COMPRESSION_INTERVAL_YEARS must not be negative, got %d", y)
	}
	if p := c.Compression.InitialResizePct; p < 1 || p > 100 {
		add("INITIAL_RESIZE_PERCENTAGE must be between 1 and 100, got %d", p)
	}
	if p := c.Compression.SubsequentResizePct; p < 1 || p > 100 {
		add("SUBSEQUENT_RESIZE_PERCENTAGE must be between 1 and 100, got %d", p)
	}
	if r := c.Compression.InitialVideoRes; r < 1 {
		add("INITIAL_VIDEO_RESOLUTION must be positive, got %d", r)
	}
	if r := c.Compression.SubsequentVideoRes; r < 1 {
		add("SUBSEQUENT_VIDEO_RESOLUTION must be positive, got %d", r)
	}

	if c.Bridge.MaxBatchBytes < 1 {
		add("MAX_BATCH_SIZE_GB must be positive")
	}
	if c.Bridge.MaxBatchFiles < 1 {
		add("MAX_BATCH_FILES must be positive, got %d", c.Bridge.MaxBatchFiles)
	}

	if c.Uploader.RetryAttempts < 0 {
		add("UPLOAD_RETRY_ATTEMPTS must not be negative, got %d", c.Uploader.RetryAttempts)
	}
	if c.Toggles.ICloudUpload && c.Uploader.UploadTimeout <= 0 {
		add("ICLOUD_UPLOAD_TIMEOUT must be positive when ENABLE_ICLOUD_UPLOAD is set")
	}

	if c.Toggles.PixelUpload {
		if c.PixelSync.APIURL == "" {
			add("SYNCTHING_API_URL is required when ENABLE_PIXEL_UPLOAD is set")
		}
		if c.PixelSync.APIKey == "" {
			add("SYNCTHING_API_KEY is required when ENABLE_PIXEL_UPLOAD is set")
		}
		if c.PixelSync.FolderID == "" {
			add("SYNCTHING_FOLDER_ID is required when ENABLE_PIXEL_UPLOAD is set")
		}
		if c.PixelSync.Timeout <= 0 {
			add("PIXEL_SYNC_TIMEOUT must be positive when ENABLE_PIXEL_UPLOAD is set")
		}
		if c.PixelSync.PollInterval <= 0 {
			add("PIXEL_SYNC_POLL_INTERVAL must be positive when ENABLE_PIXEL_UPLOAD is set")
		}
	}

	if c.Verify.GPhotosSyncCheck && c.Verify.GPhotosTokenFile == "" {
		add("GPHOTOS_TOKEN_FILE is required when GPHOTOS_SYNC_CHECK is set")
	}

	if c.Stores.MirrorQueueCap < 1 {
		add("MIRROR_QUEUE_CAP must be positive, got %d", c.Stores.MirrorQueueCap)
	}
	if c.Logging.RetentionDays < 1 {
		add("LOG_RETENTION_DAYS must be positive, got %d", c.Logging.RetentionDays)
	}
	if c.Workers < 1 {
		add("PIPELINE_WORKERS must be positive, got %d", c.Workers)
	}
	if c.WatchInterval <= 0 {
		add("WATCH_INTERVAL must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	return nil
}
