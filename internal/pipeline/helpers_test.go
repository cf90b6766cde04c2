package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nharju/photobridge/internal/store"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := store.Open(dbPath, testLogger(t))
	if err != nil {
		t.Fatalf("store.Open(%q): %v", dbPath, err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	return s
}

// writeFile creates a file with the given content, making parents.
func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// seedDownloaded registers a real on-disk file at status downloaded.
func seedDownloaded(t *testing.T, s *store.Store, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	writeFile(t, path, content)

	id, err := s.UpsertFile(context.Background(), &store.MediaFile{
		Filename:   name,
		Path:       path,
		SourcePath: "/source/" + name,
		SourceType: store.SourceFolder,
		Size:       int64(len(content)),
	})
	if err != nil {
		t.Fatalf("UpsertFile(%q): %v", name, err)
	}

	return id
}

// seedCompressed drives a seeded file to compressed, with a real artifact
// and a real content hash recorded.
func seedCompressed(t *testing.T, s *store.Store, originalsDir, compressedDir, name, content string) string {
	t.Helper()

	ctx := context.Background()
	id := seedDownloaded(t, s, originalsDir, name, content)

	hash, err := hashFile("sha256", filepath.Join(originalsDir, name))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateFileStatus(ctx, id, store.StatusDeduplicated,
		store.FileFields{Hash: &hash}); err != nil {
		t.Fatalf("to deduplicated: %v", err)
	}

	artifact := filepath.Join(compressedDir, name)
	writeFile(t, artifact, content)

	ratio := 1.0
	if err := s.UpdateFileStatus(ctx, id, store.StatusCompressed,
		store.FileFields{CompressionRatio: &ratio, CompressedPath: &artifact}); err != nil {
		t.Fatalf("to compressed: %v", err)
	}

	return id
}

// mustGetFile loads a row or fails the test.
func mustGetFile(t *testing.T, s *store.Store, id string) *store.MediaFile {
	t.Helper()

	f, err := s.GetFile(context.Background(), id)
	if err != nil {
		t.Fatalf("GetFile(%q): %v", id, err)
	}

	if f == nil {
		t.Fatalf("GetFile(%q): no row", id)
	}

	return f
}

// fileExists reports plain existence.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
