package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nharju/photobridge/internal/store"
)

// downloadedPrefix marks a completed file in the downloader's output.
// icloudpd prints "Downloaded /path/to/file" per asset.
const downloadedPrefix = "Downloaded "

// promptMarkers identify the downloader's interactive 2FA prompt. The
// prompt line ends with a colon and no newline, so the output scanner
// splits on both.
var promptMarkers = []string{
	"two-factor authentication code",
	"two factor authentication code",
	"enter the code",
}

// ICloudAdapter drives an external icloudpd-compatible downloader. The
// subprocess downloads into a staging directory; Fetch moves staged files
// into the originals tree.
//
// 2FA: when the child prompts for a code, Pending2FA fires and Discover
// blocks until ProvideCode supplies one (written to the child's stdin) or
// the window expires, which kills the child and fails with ErrAuth.
type ICloudAdapter struct {
	cmd          string
	stagingDir   string
	originalsDir string
	twoFATimeout time.Duration
	logger       *slog.Logger

	pending chan struct{}
	codes   chan string
}

// NewICloudAdapter builds the cloud-photo adapter.
func NewICloudAdapter(cmd, stagingDir, originalsDir string, twoFATimeout time.Duration, logger *slog.Logger) *ICloudAdapter {
	return &ICloudAdapter{
		cmd:          cmd,
		stagingDir:   stagingDir,
		originalsDir: originalsDir,
		twoFATimeout: twoFATimeout,
		logger:       logger,
		pending:      make(chan struct{}, 1),
		codes:        make(chan string, 1),
	}
}

// Tag implements Adapter.
func (a *ICloudAdapter) Tag() store.SourceType {
	return store.SourceICloud
}

// Pending2FA signals that the downloader is waiting for a verification
// code. An out-of-band channel (terminal prompt, notifier) should answer
// with ProvideCode.
func (a *ICloudAdapter) Pending2FA() <-chan struct{} {
	return a.pending
}

// ProvideCode supplies the 2FA code the downloader asked for.
func (a *ICloudAdapter) ProvideCode(code string) error {
	select {
	case a.codes <- code:
		return nil
	default:
		return fmt.Errorf("ingest: no pending 2FA challenge")
	}
}

// Discover runs the downloader to completion, emitting every file it
// reports as downloaded.
func (a *ICloudAdapter) Discover(ctx context.Context, emit func(Item) error) error {
	if err := os.MkdirAll(a.stagingDir, 0o755); err != nil {
		return fmt.Errorf("ingest: creating staging dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, a.cmd, "--directory", a.stagingDir)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ingest: downloader stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ingest: downloader stdout: %w", err)
	}

	cmd.Stderr = cmd.Stdout // interleave; prompts may land on either

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ingest: starting downloader %s: %w", a.cmd, err)
	}

	scanErr := a.scanOutput(ctx, cmd, stdin, stdout, emit)

	waitErr := cmd.Wait()

	if scanErr != nil {
		return scanErr
	}

	if waitErr != nil {
		return fmt.Errorf("ingest: downloader %s: %w", a.cmd, waitErr)
	}

	return nil
}

// scanOutput reads downloader output, emitting downloads and answering
// 2FA prompts.
func (a *ICloudAdapter) scanOutput(
	ctx context.Context, cmd *exec.Cmd,
	stdin io.WriteCloser, stdout io.Reader,
	emit func(Item) error,
) error {
	defer stdin.Close()

	scanner := bufio.NewScanner(stdout)
	scanner.Split(scanLinesOrPrompt)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if isPrompt(line) {
			if err := a.answerPrompt(ctx, cmd, stdin); err != nil {
				return err
			}

			continue
		}

		// The marker may be preceded by a log-level prefix; match anywhere.
		if idx := strings.Index(line, downloadedPrefix); idx >= 0 {
			path := strings.TrimSpace(line[idx+len(downloadedPrefix):])

			info, err := os.Stat(path)
			if err != nil {
				a.logger.Warn("downloader reported a file that is not there",
					slog.String("path", path), slog.Any("error", err))
				continue
			}

			if err := emit(Item{Ref: path, LocalPath: path, Size: info.Size()}); err != nil {
				return err
			}
		}
	}

	return scanner.Err()
}

// answerPrompt waits for a code from ProvideCode and feeds it to the
// child. No code within the window kills the child and reports ErrAuth.
func (a *ICloudAdapter) answerPrompt(ctx context.Context, cmd *exec.Cmd, stdin io.Writer) error {
	select {
	case a.pending <- struct{}{}:
	default:
	}

	a.logger.Info("downloader requests a 2FA code",
		slog.Duration("window", a.twoFATimeout))

	timer := time.NewTimer(a.twoFATimeout)
	defer timer.Stop()

	select {
	case code := <-a.codes:
		if _, err := io.WriteString(stdin, code+"\n"); err != nil {
			return fmt.Errorf("ingest: sending 2FA code: %w", err)
		}

		return nil
	case <-timer.C:
		cmd.Process.Kill()
		return fmt.Errorf("%w: no 2FA code within %s", ErrAuth, a.twoFATimeout)
	case <-ctx.Done():
		cmd.Process.Kill()
		return ctx.Err()
	}
}

// Fetch moves a staged download into the originals directory. Rename is
// tried first; a cross-device staging area falls back to copy-and-remove.
func (a *ICloudAdapter) Fetch(_ context.Context, item Item) (string, error) {
	if err := os.MkdirAll(a.originalsDir, 0o755); err != nil {
		return "", fmt.Errorf("ingest: creating originals dir: %w", err)
	}

	dest := filepath.Join(a.originalsDir, filepath.Base(item.LocalPath))

	if err := os.Rename(item.LocalPath, dest); err == nil {
		return dest, nil
	}

	dest, err := copyInto(item.LocalPath, a.originalsDir)
	if err != nil {
		return "", err
	}

	os.Remove(item.LocalPath)

	return dest, nil
}

// isPrompt reports whether an output fragment is the 2FA challenge.
func isPrompt(line string) bool {
	lower := strings.ToLower(line)

	for _, marker := range promptMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	return false
}

// scanLinesOrPrompt splits on newlines like bufio.ScanLines but also
// yields a token at a colon, because the downloader's interactive prompt
// ends with ": " and never a newline.
func scanLinesOrPrompt(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\n:"); i >= 0 {
		return i + 1, bytes.TrimSuffix(data[:i], []byte("\r")), nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}
