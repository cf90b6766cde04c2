package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// RunFunc executes an external command and returns its combined output on
// failure context. The default implementation shells out; tests substitute
// stubs so no ffmpeg binary is needed.
type RunFunc func(ctx context.Context, name string, args ...string) error

// Transcoder recompresses videos by driving an external ffmpeg binary.
type Transcoder struct {
	// FFmpeg is the binary name or path. Empty means ffmpeg is unavailable
	// and every transcode reports ErrUnsupported.
	FFmpeg string

	// Run executes the command. Nil uses the real subprocess runner.
	Run RunFunc

	Logger *slog.Logger
}

// Available reports whether the transcoder can do anything at all. The
// compression phase checks this once and copy-throughs videos when ffmpeg
// is missing rather than erroring every file.
func (t *Transcoder) Available() bool {
	if t.FFmpeg == "" {
		return false
	}

	if t.Run != nil {
		return true
	}

	_, err := exec.LookPath(t.FFmpeg)

	return err == nil
}

// Transcode re-encodes src into dst, capping the output height at
// maxHeight lines (width follows, kept even for the encoder) with the
// given CRF and preset. Returns the output byte size. The encode goes
// through a temp name in dst's directory so an interrupted run never
// leaves a half-written artifact under the final name.
func (t *Transcoder) Transcode(ctx context.Context, src, dst string, maxHeight, crf int, preset string) (int64, error) {
	if !t.Available() {
		return 0, fmt.Errorf("%w: ffmpeg not available", ErrUnsupported)
	}

	tmp := filepath.Join(filepath.Dir(dst), ".transcode-"+filepath.Base(dst))
	defer os.Remove(tmp)

	// scale=-2:'min(H,ih)' caps height without upscaling shorter videos
	// and keeps the width divisible by two, which x264 requires.
	args := []string{
		"-y",
		"-i", src,
		"-vf", fmt.Sprintf("scale=-2:'min(%d,ih)'", maxHeight),
		"-c:v", "libx264",
		"-crf", strconv.Itoa(crf),
		"-preset", preset,
		"-c:a", "copy",
		"-movflags", "+faststart",
		tmp,
	}

	run := t.Run
	if run == nil {
		run = runCommand
	}

	if err := run(ctx, t.FFmpeg, args...); err != nil {
		return 0, fmt.Errorf("media: transcoding %s: %w", src, err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		return 0, fmt.Errorf("media: publishing transcode %s: %w", dst, err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return 0, fmt.Errorf("media: sizing %s: %w", dst, err)
	}

	if t.Logger != nil {
		t.Logger.Debug("transcode complete",
			slog.String("src", src),
			slog.Int64("bytes", info.Size()),
		)
	}

	return info.Size(), nil
}

// runCommand is the real subprocess runner. Output is discarded on
// success; failures carry ffmpeg's stderr tail in the error.
func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, tail(out))
	}

	return nil
}

// tailBytes bounds how much subprocess output lands in error messages.
const tailBytes = 512

func tail(out []byte) []byte {
	if len(out) > tailBytes {
		return out[len(out)-tailBytes:]
	}

	return out
}
