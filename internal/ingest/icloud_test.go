package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nharju/photobridge/internal/store"
)

// writeDownloader installs an executable shell script standing in for the
// external downloader binary.
func writeDownloader(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fake-icloudpd")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("writing downloader stub: %v", err)
	}

	return path
}

func TestICloudDiscoverEmitsDownloads(t *testing.T) {
	t.Parallel()

	staging := t.TempDir()
	fileA := filepath.Join(staging, "IMG_0001.jpg")
	fileB := filepath.Join(staging, "IMG_0002.mov")
	writeFile(t, fileA, "a")
	writeFile(t, fileB, "b")

	cmd := writeDownloader(t, `
echo "Downloaded `+fileA+`"
echo "INFO Downloaded `+fileB+`"
echo "Skipping IMG_0003.jpg (already exists)"
`)

	a := NewICloudAdapter(cmd, staging, t.TempDir(), time.Second, discardLogger())

	if a.Tag() != store.SourceICloud {
		t.Errorf("Tag = %s, want icloud", a.Tag())
	}

	var got []string

	err := a.Discover(context.Background(), func(item Item) error {
		got = append(got, item.LocalPath)
		return nil
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(got) != 2 || got[0] != fileA || got[1] != fileB {
		t.Errorf("discovered %v, want [%s %s]", got, fileA, fileB)
	}
}

func TestICloudDiscoverAnswers2FA(t *testing.T) {
	t.Parallel()

	staging := t.TempDir()
	photo := filepath.Join(staging, "IMG_0001.jpg")
	writeFile(t, photo, "payload")

	// The stub prompts (colon-terminated, no newline), requires the right
	// code on stdin, then reports one download.
	cmd := writeDownloader(t, `
printf "Please enter two-factor authentication code: "
read code
if [ "$code" != "123456" ]; then
  echo "wrong code" >&2
  exit 1
fi
echo "Downloaded `+photo+`"
`)

	a := NewICloudAdapter(cmd, staging, t.TempDir(), 5*time.Second, discardLogger())

	// Out-of-band responder: answer the challenge when it fires.
	go func() {
		<-a.Pending2FA()
		a.ProvideCode("123456")
	}()

	count := 0

	err := a.Discover(context.Background(), func(Item) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if count != 1 {
		t.Errorf("discovered %d items, want 1", count)
	}
}

func TestICloudDiscover2FATimeout(t *testing.T) {
	t.Parallel()

	cmd := writeDownloader(t, `
printf "Please enter two-factor authentication code: "
read code
echo "Downloaded nothing"
`)

	a := NewICloudAdapter(cmd, t.TempDir(), t.TempDir(), 50*time.Millisecond, discardLogger())

	err := a.Discover(context.Background(), func(Item) error { return nil })
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
}

func TestICloudDiscoverSurfacesExitFailure(t *testing.T) {
	t.Parallel()

	cmd := writeDownloader(t, `
echo "could not connect" >&2
exit 3
`)

	a := NewICloudAdapter(cmd, t.TempDir(), t.TempDir(), time.Second, discardLogger())

	if err := a.Discover(context.Background(), func(Item) error { return nil }); err == nil {
		t.Fatal("Discover swallowed downloader failure")
	}
}

func TestICloudFetchMovesStagedFile(t *testing.T) {
	t.Parallel()

	staging := t.TempDir()
	originals := filepath.Join(t.TempDir(), "originals")
	src := filepath.Join(staging, "IMG_0001.jpg")
	writeFile(t, src, "payload")

	a := NewICloudAdapter("unused", staging, originals, time.Second, discardLogger())

	dest, err := a.Fetch(context.Background(), Item{Ref: src, LocalPath: src})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if dest != filepath.Join(originals, "IMG_0001.jpg") {
		t.Errorf("dest = %q", dest)
	}

	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("staged file still present after move: %v", err)
	}
}
