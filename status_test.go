package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nharju/photobridge/internal/config"
	"github.com/nharju/photobridge/internal/store"
)

func TestCollectStatus(t *testing.T) {
	prev := loadedCfg
	loadedCfg = &config.Config{}

	t.Cleanup(func() { loadedCfg = prev })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := store.Open(filepath.Join(t.TempDir(), "status.db"), logger)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	ctx := context.Background()

	_, err = s.UpsertFile(ctx, &store.MediaFile{
		Filename:   "a.jpg",
		Path:       "/nas/originals/a.jpg",
		SourcePath: "/dropbox/a.jpg",
		SourceType: store.SourceFolder,
		Size:       10,
	})
	require.NoError(t, err)

	badID, err := s.UpsertFile(ctx, &store.MediaFile{
		Filename:   "b.jpg",
		Path:       "/nas/originals/b.jpg",
		SourcePath: "/dropbox/b.jpg",
		SourceType: store.SourceFolder,
		Size:       10,
	})
	require.NoError(t, err)
	require.NoError(t, s.MarkFileError(ctx, badID, "disk on fire"))

	out, err := collectStatus(ctx, s)
	require.NoError(t, err)

	assert.Equal(t, int64(1), out.Files["downloaded"])
	assert.Equal(t, int64(1), out.Files["error"])
	assert.Equal(t, int64(0), out.Files["verified"])
	assert.Equal(t, int64(0), out.Duplicates)
	assert.Nil(t, out.Mirror, "mirror section only with a remote configured")

	require.Len(t, out.ErrorFiles, 1)
	assert.Equal(t, badID, out.ErrorFiles[0].ID)
	assert.Equal(t, "disk on fire", out.ErrorFiles[0].Error)
}
