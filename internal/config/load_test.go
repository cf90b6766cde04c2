package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "photobridge.conf")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

// minimalConfig is the smallest file that passes validation with the pixel
// and gphotos legs disabled.
const minimalConfig = `
NAS_MOUNT=/mnt/nas/photos
LOCAL_DB_PATH=/var/lib/photobridge/pipeline.db
ENABLE_PIXEL_UPLOAD=false
`

func TestLoad_ValidFullConfig(t *testing.T) {
	content := `
ENABLE_ICLOUD_DOWNLOAD=true
ENABLE_FOLDER_DOWNLOAD=yes
ENABLE_DEDUPLICATION=1
ENABLE_COMPRESSION=true
ENABLE_FILE_PREPARATION=true
ENABLE_ICLOUD_UPLOAD=true
ENABLE_PIXEL_UPLOAD=true
ENABLE_VERIFICATION=true
ENABLE_SORTING=true

NAS_MOUNT=/mnt/nas/photos
LOCAL_DB_PATH=/var/lib/photobridge/pipeline.db
REMOTE_DB_URL=https://db.example.com/rest/v1
REMOTE_DB_KEY=secret-key

FOLDER_DOWNLOAD_DIRS=/srv/dropbox, /srv/camera-card
ICLOUD_DOWNLOADER_CMD=/usr/local/bin/icloudpd
ICLOUD_2FA_TIMEOUT=120

DEDUPLICATION_HASH_ALGORITHM=md5

JPEG_QUALITY=80
VIDEO_CRF=26
VIDEO_PRESET=fast
COMPRESSION_INTERVAL_YEARS=3
INITIAL_RESIZE_PERCENTAGE=90
SUBSEQUENT_RESIZE_PERCENTAGE=60
INITIAL_VIDEO_RESOLUTION=1080
SUBSEQUENT_VIDEO_RESOLUTION=480

MAX_BATCH_SIZE_GB=2.5
MAX_BATCH_FILES=250
CLEAR_BRIDGE_BEFORE_PROCESSING=true

UPLOAD_RETRY_ATTEMPTS=5
UPLOAD_RETRY_DELAY=10
ICLOUD_UPLOAD_TIMEOUT=900
ICLOUD_UPLOAD_SELECTOR=input[type=file]
ICLOUD_SESSION_FILE=/var/lib/photobridge/session.json
PUPPETEER_HEADLESS=false

SYNCTHING_API_URL=http://127.0.0.1:8384
SYNCTHING_API_KEY=st-key
SYNCTHING_FOLDER_ID=pixel-camera
PIXEL_SYNC_TIMEOUT=600
PIXEL_SYNC_POLL_INTERVAL=10

MIRROR_QUEUE_CAP=500
MIRROR_FLUSH_INTERVAL=15

GPHOTOS_SYNC_CHECK=true
GPHOTOS_TOKEN_FILE=/var/lib/photobridge/gphotos-token.json

LOG_LEVEL=debug
LOG_FORMAT=json
VERBOSE_LOGGING=false
LOG_RETENTION_DAYS=14

PIPELINE_WORKERS=8
WATCH_INTERVAL=60
`
	path := writeTestConfig(t, content)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.True(t, cfg.Toggles.ICloudDownload)
	assert.True(t, cfg.Toggles.FolderDownload)
	assert.True(t, cfg.Toggles.Deduplication)

	assert.Equal(t, "/mnt/nas/photos", cfg.Layout.NASMount)
	assert.Equal(t, "/var/lib/photobridge/pipeline.db", cfg.Stores.LocalDBPath)
	assert.Equal(t, "https://db.example.com/rest/v1", cfg.Stores.RemoteDBURL)
	assert.Equal(t, "secret-key", cfg.Stores.RemoteDBKey)
	assert.True(t, cfg.MirrorEnabled())

	assert.Equal(t, []string{"/srv/dropbox", "/srv/camera-card"}, cfg.Ingest.FolderDownloadDirs)
	assert.Equal(t, "/usr/local/bin/icloudpd", cfg.Ingest.ICloudDownloaderCmd)
	assert.Equal(t, 120, int(cfg.Ingest.TwoFATimeout.Seconds()))

	assert.Equal(t, HashMD5, cfg.Dedupe.HashAlgorithm)

	assert.Equal(t, 80, cfg.Compression.JPEGQuality)
	assert.Equal(t, 26, cfg.Compression.VideoCRF)
	assert.Equal(t, "fast", cfg.Compression.VideoPreset)
	assert.Equal(t, 3, cfg.Compression.IntervalYears)
	assert.Equal(t, 90, cfg.Compression.InitialResizePct)
	assert.Equal(t, 60, cfg.Compression.SubsequentResizePct)
	assert.Equal(t, 480, cfg.Compression.SubsequentVideoRes)

	assert.Equal(t, int64(2_500_000_000), cfg.Bridge.MaxBatchBytes)
	assert.Equal(t, 250, cfg.Bridge.MaxBatchFiles)
	assert.True(t, cfg.Bridge.ClearBridgeBeforeProcessing)

	assert.Equal(t, 5, cfg.Uploader.RetryAttempts)
	assert.Equal(t, 10, int(cfg.Uploader.RetryDelay.Seconds()))
	assert.Equal(t, 900, int(cfg.Uploader.UploadTimeout.Seconds()))
	assert.Equal(t, "input[type=file]", cfg.Uploader.Selector)
	assert.False(t, cfg.Uploader.Headless)

	assert.Equal(t, "http://127.0.0.1:8384", cfg.PixelSync.APIURL)
	assert.Equal(t, "st-key", cfg.PixelSync.APIKey)
	assert.Equal(t, "pixel-camera", cfg.PixelSync.FolderID)
	assert.Equal(t, 600, int(cfg.PixelSync.Timeout.Seconds()))
	assert.Equal(t, 10, int(cfg.PixelSync.PollInterval.Seconds()))

	assert.Equal(t, 500, cfg.Stores.MirrorQueueCap)
	assert.True(t, cfg.Verify.GPhotosSyncCheck)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 14, cfg.Logging.RetentionDays)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 60, int(cfg.WatchInterval.Seconds()))
}

func TestLoad_MinimalConfig_UsesDefaults(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, HashSHA256, cfg.Dedupe.HashAlgorithm)
	assert.Equal(t, DefaultJPEGQuality, cfg.Compression.JPEGQuality)
	assert.Equal(t, DefaultMaxBatchFiles, cfg.Bridge.MaxBatchFiles)
	assert.Equal(t, gbToBytes(DefaultMaxBatchSizeGB), cfg.Bridge.MaxBatchBytes)
	assert.Equal(t, DefaultUploadRetryAttempts, cfg.Uploader.RetryAttempts)
	assert.True(t, cfg.Uploader.Headless)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.False(t, cfg.MirrorEnabled())
}

func TestLoad_LayoutDerivedFromNASMount(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "/mnt/nas/photos/originals", cfg.Layout.OriginalsDir)
	assert.Equal(t, "/mnt/nas/photos/compressed", cfg.Layout.CompressedDir)
	assert.Equal(t, "/mnt/nas/photos/bridge/icloud", cfg.Layout.BridgeICloudDir)
	assert.Equal(t, "/mnt/nas/photos/bridge/pixel", cfg.Layout.BridgePixelDir)
	assert.Equal(t, "/mnt/nas/photos/uploaded/icloud", cfg.Layout.UploadedICloudDir)
	assert.Equal(t, "/mnt/nas/photos/uploaded/pixel", cfg.Layout.UploadedPixelDir)
	assert.Equal(t, "/mnt/nas/photos/sorted", cfg.Layout.SortedDir)
	assert.Equal(t, "/mnt/nas/photos/cleanup", cfg.Layout.CleanupDir)
	assert.Equal(t, cfg.Layout.BridgePixelDir, cfg.Layout.PixelSyncFolder)
}

func TestLoad_LayoutOverridesWin(t *testing.T) {
	path := writeTestConfig(t, minimalConfig+`
ORIGINALS_DIR=/fast-ssd/originals
PIXEL_SYNC_FOLDER=/mnt/nas/photos/pixel-sync
`)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "/fast-ssd/originals", cfg.Layout.OriginalsDir)
	assert.Equal(t, "/mnt/nas/photos/pixel-sync", cfg.Layout.PixelSyncFolder)
	assert.Equal(t, "/mnt/nas/photos/compressed", cfg.Layout.CompressedDir)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/photobridge.conf", testLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestLoad_BadBoolean(t *testing.T) {
	path := writeTestConfig(t, minimalConfig+"ENABLE_COMPRESSION=maybe\n")
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "ENABLE_COMPRESSION")
}

func TestLoad_BooleanForms(t *testing.T) {
	cases := map[string]bool{
		"true": true, "TRUE": true, "True": true, "1": true, "yes": true, "YES": true,
		"false": false, "FALSE": false, "0": false, "no": false, "No": false,
	}
	for raw, want := range cases {
		path := writeTestConfig(t, minimalConfig+"ENABLE_SORTING="+raw+"\n")
		cfg, err := Load(path, testLogger(t))
		require.NoError(t, err, "value %q", raw)
		assert.Equal(t, want, cfg.Toggles.Sorting, "value %q", raw)
	}
}

func TestLoad_BadInteger_ReportsAllErrors(t *testing.T) {
	path := writeTestConfig(t, minimalConfig+`
JPEG_QUALITY=ninety
MAX_BATCH_FILES=lots
`)
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JPEG_QUALITY")
	assert.Contains(t, err.Error(), "MAX_BATCH_FILES")
}

func TestLoad_BadEnum(t *testing.T) {
	path := writeTestConfig(t, minimalConfig+"DEDUPLICATION_HASH_ALGORITHM=crc32\n")
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEDUPLICATION_HASH_ALGORITHM")
}

func TestLoad_UnknownKeysIgnored(t *testing.T) {
	path := writeTestConfig(t, minimalConfig+`
SOME_OTHER_TOOL_KEY=whatever
ANOTHER_UNKNOWN=1
`)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "/mnt/nas/photos", cfg.Layout.NASMount)
}

func TestLoad_ConfigPathEnvFallback(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load("", testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "/mnt/nas/photos", cfg.Layout.NASMount)
}

func TestLoad_ExplicitPathBeatsEnv(t *testing.T) {
	good := writeTestConfig(t, minimalConfig)
	t.Setenv("CONFIG_PATH", "/nonexistent/photobridge.conf")

	cfg, err := Load(good, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "/mnt/nas/photos", cfg.Layout.NASMount)
}
