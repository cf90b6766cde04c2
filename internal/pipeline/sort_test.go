package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nharju/photobridge/internal/config"
	"github.com/nharju/photobridge/internal/store"
	"github.com/nharju/photobridge/pkg/exifdate"
)

func newSortPhase(t *testing.T, s *store.Store, sortedDir string) *SortPhase {
	t.Helper()

	return &SortPhase{
		Store:     s,
		SortedDir: sortedDir,
		Dates:     &exifdate.Extractor{},
		Algorithm: config.HashSHA256,
		On:        true,
		Logger:    testLogger(t),
	}
}

// verifiedFile drives a file to verified with a recorded capture date.
func verifiedFile(t *testing.T, s *store.Store, dir, name, content string, captured time.Time) string {
	t.Helper()

	ctx := context.Background()
	id := seedCompressed(t, s, dir, t.TempDir(), name, content)

	if _, err := s.CreateBatch(ctx, store.DestICloud, []string{id}); err != nil {
		t.Fatal(err)
	}

	fields := store.FileFields{}

	if !captured.IsZero() {
		nanos := captured.UnixNano()
		fields.CaptureDate = &nanos
	}

	if err := s.UpdateFileStatus(ctx, id, store.StatusUploaded, fields); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateFileStatus(ctx, id, store.StatusVerified, store.FileFields{}); err != nil {
		t.Fatal(err)
	}

	return id
}

func TestSortIntoDatedTree(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	originals := t.TempDir()
	sorted := t.TempDir()

	captured := time.Date(2023, 7, 4, 10, 30, 0, 0, time.UTC)
	id := verifiedFile(t, s, originals, "a.jpg", "bytes", captured)

	out, err := newSortPhase(t, s, sorted).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Succeeded != 1 {
		t.Fatalf("outcome = %+v", out)
	}

	want := filepath.Join(sorted, "2023", "07", "04", "a.jpg")
	if !fileExists(want) {
		t.Fatalf("archived file missing at %s", want)
	}

	f := mustGetFile(t, s, id)

	if f.Path != want {
		t.Errorf("path = %q, want %q", f.Path, want)
	}

	if f.Status != store.StatusVerified {
		t.Errorf("status = %s, sorting must not change it", f.Status)
	}

	if f.ProcessedAt == 0 {
		t.Error("processed_at should record the sort")
	}

	if fileExists(filepath.Join(originals, "a.jpg")) {
		t.Error("original should have moved out of the originals tree")
	}
}

func TestSortCollisionIdenticalContentDropsSource(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	originals := t.TempDir()
	sorted := t.TempDir()

	captured := time.Date(2023, 7, 4, 0, 0, 0, 0, time.UTC)
	id := verifiedFile(t, s, originals, "a.jpg", "same bytes", captured)

	archived := filepath.Join(sorted, "2023", "07", "04", "a.jpg")
	writeFile(t, archived, "same bytes")

	out, err := newSortPhase(t, s, sorted).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Succeeded != 1 {
		t.Fatalf("outcome = %+v", out)
	}

	if fileExists(filepath.Join(originals, "a.jpg")) {
		t.Error("identical source should be dropped")
	}

	if got := mustGetFile(t, s, id); got.Path != archived {
		t.Errorf("path = %q, want existing archive copy %q", got.Path, archived)
	}

	entries, err := os.ReadDir(filepath.Join(sorted, "2023", "07", "04"))
	if err != nil || len(entries) != 1 {
		t.Errorf("archive dir should hold exactly one file, got %d", len(entries))
	}
}

func TestSortCollisionDifferentContentSuffixes(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	originals := t.TempDir()
	sorted := t.TempDir()

	captured := time.Date(2023, 7, 4, 0, 0, 0, 0, time.UTC)
	id := verifiedFile(t, s, originals, "a.jpg", "new bytes", captured)

	writeFile(t, filepath.Join(sorted, "2023", "07", "04", "a.jpg"), "other bytes")
	writeFile(t, filepath.Join(sorted, "2023", "07", "04", "a_1.jpg"), "more bytes")

	if _, err := newSortPhase(t, s, sorted).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := filepath.Join(sorted, "2023", "07", "04", "a_2.jpg")
	if !fileExists(want) {
		t.Fatalf("expected smallest free suffix at %s", want)
	}

	if got := mustGetFile(t, s, id); got.Path != want {
		t.Errorf("path = %q, want %q", got.Path, want)
	}
}

func TestSortAlreadySortedIsNoOp(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	originals := t.TempDir()
	sorted := t.TempDir()

	captured := time.Date(2023, 7, 4, 0, 0, 0, 0, time.UTC)
	verifiedFile(t, s, originals, "a.jpg", "bytes", captured)

	phase := newSortPhase(t, s, sorted)

	if _, err := phase.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	out, err := phase.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if out.Processed != 0 || out.Skipped != 1 {
		t.Errorf("second run outcome = %+v, want pure skip", out)
	}
}
