package pipeline

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not authentication
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/nharju/photobridge/internal/config"
)

// ErrIO tags filesystem failures so callers can classify a file's error
// without parsing messages. A file that hits it goes to error; the phase
// keeps going.
var ErrIO = errors.New("pipeline: file I/O failure")

// newHasher maps the configured algorithm name to a hash constructor.
func newHasher(algo string) (hash.Hash, error) {
	switch algo {
	case config.HashMD5:
		return md5.New(), nil //nolint:gosec // content fingerprint
	case config.HashSHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("pipeline: unknown hash algorithm %q", algo)
	}
}

// hashFile returns the hex digest of a file's content.
func hashFile(algo, path string) (string, error) {
	h, err := newHasher(algo)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: hashing %s: %w", ErrIO, path, err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: hashing %s: %w", ErrIO, path, err)
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// copyFile copies src to dst through a temp file in dst's directory, so a
// crash never leaves a half-written file under the final name.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: copying %s: %w", ErrIO, src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".copy-*")
	if err != nil {
		return fmt.Errorf("%w: copying %s: %w", ErrIO, src, err)
	}

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("%w: copying %s: %w", ErrIO, src, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: copying %s: %w", ErrIO, src, err)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: copying %s: %w", ErrIO, src, err)
	}

	return nil
}

// moveFile renames src to dst, falling back to copy+remove across
// filesystem boundaries. The destination directory is created as needed.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%w: moving %s: %w", ErrIO, src, err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("%w: removing %s after copy: %w", ErrIO, src, err)
	}

	return nil
}

// stagedName is the flat bridge filename for a file's shippable artifact:
// the basename, NFC-normalized so macOS-decomposed names dedupe against
// their composed forms.
func stagedName(path string) string {
	return norm.NFC.String(filepath.Base(path))
}

// conflictName disambiguates a bridge name collision against different
// content: insert the first 8 hex digits of the file's hash before the
// extension.
func conflictName(name, contentHash string) string {
	hash8 := contentHash
	if len(hash8) > 8 {
		hash8 = hash8[:8]
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	return base + "_" + hash8 + ext
}

// findStaged locates a file's staged copy in a bridge directory, checking
// the plain name first and the conflict-suffixed name second.
func findStaged(bridgeDir, artifactPath, contentHash string) (string, bool) {
	name := stagedName(artifactPath)

	for _, candidate := range []string{name, conflictName(name, contentHash)} {
		p := filepath.Join(bridgeDir, candidate)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}

	return "", false
}
