// Package exifdate extracts a media file's capture date through a fixed
// fallback chain: EXIF DateTimeOriginal, then container/creation metadata,
// then filesystem mtime. The sorter uses the result to build the
// YYYY/MM/DD archive path; the compressor uses it for age tiering.
//
// The chain never fails outright for an existing file (mtime is always
// available), so Source tells callers how trustworthy the date is.
// SourceUnknown appears only when even stat fails.
package exifdate

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Source identifies which link of the fallback chain produced the date.
type Source string

// Chain links, strongest first.
const (
	SourceEXIF    Source = "exif"    // EXIF DateTimeOriginal
	SourceCreate  Source = "create"  // EXIF/container creation metadata
	SourceModify  Source = "modify"  // EXIF modify date
	SourceMTime   Source = "mtime"   // filesystem modification time
	SourceUnknown Source = "unknown" // nothing worked; bucket as unknown/
)

// exifTimeLayout is the colon-separated timestamp format EXIF mandates.
const exifTimeLayout = "2006:01:02 15:04:05"

// Result is an extracted capture date and the chain link that produced it.
type Result struct {
	Time   time.Time
	Source Source
}

// Known reports whether the chain produced any date at all.
func (r Result) Known() bool {
	return r.Source != SourceUnknown
}

// ProbeFunc runs a container-metadata probe over a media file and returns
// its creation time. Implemented by FFProbe; tests substitute stubs.
type ProbeFunc func(ctx context.Context, path string) (time.Time, error)

// Extractor walks the fallback chain. The zero value works for images;
// set Probe to enable container dates for videos.
type Extractor struct {
	// Probe extracts container creation metadata (videos). Nil skips that
	// link of the chain.
	Probe ProbeFunc
}

// videoExts lists container formats handed to Probe instead of the EXIF
// decoder.
var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".m4v": true,
	".avi": true, ".mkv": true, ".3gp": true,
}

// Extract runs the chain over path. It never returns an error: a file that
// defeats every metadata reader still sorts by mtime, and a file that
// cannot even be stat'ed comes back as SourceUnknown.
func (e *Extractor) Extract(ctx context.Context, path string) Result {
	ext := strings.ToLower(filepath.Ext(path))

	if videoExts[ext] {
		if e.Probe != nil {
			if t, err := e.Probe(ctx, path); err == nil && !t.IsZero() {
				return Result{Time: t, Source: SourceCreate}
			}
		}
	} else if r, ok := fromEXIF(path); ok {
		return r
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{Source: SourceUnknown}
	}

	return Result{Time: info.ModTime(), Source: SourceMTime}
}

// fromEXIF tries the EXIF tags in order of intent: the moment of capture,
// then digitization, then last modification.
func fromEXIF(path string) (Result, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, false
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return Result{}, false
	}

	fields := []struct {
		name   exif.FieldName
		source Source
	}{
		{exif.DateTimeOriginal, SourceEXIF},
		{exif.DateTimeDigitized, SourceCreate},
		{exif.DateTime, SourceModify},
	}

	for _, field := range fields {
		tag, err := x.Get(field.name)
		if err != nil {
			continue
		}

		raw, err := tag.StringVal()
		if err != nil {
			continue
		}

		t, err := time.ParseInLocation(exifTimeLayout, strings.TrimSpace(raw), time.Local)
		if err != nil {
			continue
		}

		return Result{Time: t, Source: field.source}, true
	}

	return Result{}, false
}

// FFProbe returns a ProbeFunc that shells out to the named ffprobe binary
// and reads the container's creation_time tag.
func FFProbe(binary string) ProbeFunc {
	return func(ctx context.Context, path string) (time.Time, error) {
		out, err := exec.CommandContext(ctx, binary,
			"-v", "quiet",
			"-print_format", "json",
			"-show_format",
			path,
		).Output()
		if err != nil {
			return time.Time{}, err
		}

		return ParseProbeOutput(out)
	}
}

// errNoCreationTime reports ffprobe output that carried no usable date.
var errNoCreationTime = errors.New("exifdate: no creation_time in probe output")

// probeFormat mirrors the slice of ffprobe's -show_format JSON we care
// about.
type probeFormat struct {
	Format struct {
		Tags map[string]string `json:"tags"`
	} `json:"format"`
}

// creationTags lists container tag names carrying a creation date, in
// preference order. QuickTime files from Apple devices use the prefixed
// form; most others write creation_time.
var creationTags = []string{
	"com.apple.quicktime.creationdate",
	"creation_time",
	"date",
}

// ParseProbeOutput extracts the creation time from ffprobe -show_format
// JSON. Exported for tests and for callers that run ffprobe themselves.
func ParseProbeOutput(out []byte) (time.Time, error) {
	var pf probeFormat
	if err := json.Unmarshal(out, &pf); err != nil {
		return time.Time{}, err
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05-0700",
		"2006-01-02 15:04:05",
	}

	for _, tag := range creationTags {
		raw, ok := pf.Format.Tags[tag]
		if !ok || raw == "" {
			continue
		}

		for _, layout := range layouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, nil
			}
		}
	}

	return time.Time{}, errNoCreationTime
}
