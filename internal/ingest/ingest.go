// Package ingest implements the pluggable source adapters that feed the
// pipeline: a local-folder sweeper and a cloud-photo downloader driven as
// an external subprocess. Each adapter discovers candidate items and
// fetches them into the originals directory; the ingest phase registers
// the results in the metadata store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nharju/photobridge/internal/store"
)

// ErrAuth means source authentication failed: for the cloud adapter,
// no 2FA code arrived within the configured window. The ingest phase
// aborts on it; other adapters may still run.
var ErrAuth = errors.New("ingest: source authentication failed")

// Item is one discovered candidate: a local path for the folder adapter,
// or a staged download for the cloud adapter.
type Item struct {
	// Ref names the item at its source (remote reference or source path).
	Ref string

	// LocalPath is where the item's bytes already sit, when known before
	// Fetch.
	LocalPath string

	// Size in bytes, when cheaply known at discovery time.
	Size int64
}

// Adapter is one ingest source variant. Discover streams candidates to
// emit (returning emit's error stops the walk); Fetch lands one item under
// the originals directory and returns its final path.
type Adapter interface {
	Tag() store.SourceType
	Discover(ctx context.Context, emit func(Item) error) error
	Fetch(ctx context.Context, item Item) (string, error)
}

// copyInto copies src into destDir under its own basename using a
// temp-name-then-rename dance, so an interrupted copy never leaves a
// half-written file under the final name. An existing destination of the
// same size is reused (re-runs are idempotent).
func copyInto(src, destDir string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("ingest: stat %s: %w", src, err)
	}

	dest := filepath.Join(destDir, filepath.Base(src))

	if existing, err := os.Stat(dest); err == nil && existing.Size() == info.Size() {
		return dest, nil
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("ingest: creating %s: %w", destDir, err)
	}

	tmp := filepath.Join(destDir, ".partial-"+filepath.Base(src))

	if err := copyFile(src, tmp); err != nil {
		os.Remove(tmp)
		return "", err
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("ingest: publishing %s: %w", dest, err)
	}

	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("ingest: opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("ingest: creating %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("ingest: copying %s: %w", src, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("ingest: closing %s: %w", dst, err)
	}

	return nil
}
