package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validTestConfig returns a Config that passes Validate, for tests to break
// one field at a time.
func validTestConfig() *Config {
	c := Default()
	c.Layout.NASMount = "/mnt/nas/photos"
	c.Stores.LocalDBPath = "/var/lib/photobridge/pipeline.db"
	c.PixelSync.APIURL = "http://127.0.0.1:8384"
	c.PixelSync.APIKey = "st-key"
	c.PixelSync.FolderID = "pixel-camera"
	c.applyLayoutDefaults()
	return c
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validTestConfig().Validate())
}

func TestValidate_MissingNASMount(t *testing.T) {
	c := validTestConfig()
	c.Layout.NASMount = ""
	err := c.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "NAS_MOUNT")
}

func TestValidate_MissingLocalDBPath(t *testing.T) {
	c := validTestConfig()
	c.Stores.LocalDBPath = ""
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOCAL_DB_PATH")
}

func TestValidate_RemoteURLWithoutKey(t *testing.T) {
	c := validTestConfig()
	c.Stores.RemoteDBURL = "https://db.example.com"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REMOTE_DB_KEY")
}

func TestValidate_JPEGQualityRange(t *testing.T) {
	for _, q := range []int{0, -1, 101} {
		c := validTestConfig()
		c.Compression.JPEGQuality = q
		err := c.Validate()
		require.Error(t, err, "quality %d", q)
		assert.Contains(t, err.Error(), "JPEG_QUALITY")
	}

	for _, q := range []int{1, 85, 100} {
		c := validTestConfig()
		c.Compression.JPEGQuality = q
		require.NoError(t, c.Validate(), "quality %d", q)
	}
}

func TestValidate_PixelSyncRequirements(t *testing.T) {
	c := validTestConfig()
	c.PixelSync.APIURL = ""
	c.PixelSync.APIKey = ""
	c.PixelSync.FolderID = ""
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNCTHING_API_URL")
	assert.Contains(t, err.Error(), "SYNCTHING_API_KEY")
	assert.Contains(t, err.Error(), "SYNCTHING_FOLDER_ID")

	// A disabled pixel leg needs neither.
	c.Toggles.PixelUpload = false
	require.NoError(t, c.Validate())
}

func TestValidate_GPhotosTokenRequired(t *testing.T) {
	c := validTestConfig()
	c.Verify.GPhotosSyncCheck = true
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GPHOTOS_TOKEN_FILE")

	c.Verify.GPhotosTokenFile = "/var/lib/photobridge/gphotos-token.json"
	require.NoError(t, c.Validate())
}

func TestValidate_MultipleViolationsReportedTogether(t *testing.T) {
	c := validTestConfig()
	c.Layout.NASMount = ""
	c.Stores.LocalDBPath = ""
	c.Workers = 0
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NAS_MOUNT")
	assert.Contains(t, err.Error(), "LOCAL_DB_PATH")
	assert.Contains(t, err.Error(), "PIPELINE_WORKERS")
}

func TestApplyLayoutDefaults_EmptyNASMountLeavesDirsEmpty(t *testing.T) {
	c := Default()
	c.applyLayoutDefaults()
	assert.Empty(t, c.Layout.OriginalsDir)
	assert.Empty(t, c.Layout.SortedDir)
}
