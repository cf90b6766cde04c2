// Package media implements the recompression primitives behind the
// compression phase: in-process image rescaling/re-encoding and ffmpeg
// video transcoding. Policy (which parameters apply to which file) lives
// in the pipeline; this package only executes one operation on one file.
package media

import (
	"path/filepath"
	"strings"
)

// Kind classifies a file by extension for compression dispatch.
type Kind int

// Media kinds.
const (
	KindUnknown Kind = iota
	KindImage
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
	".heic": true, ".gif": true, ".webp": true,
	".tif": true, ".tiff": true, ".bmp": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".m4v": true,
	".avi": true, ".mkv": true, ".3gp": true,
}

// KindOf classifies a path by extension alone. Content sniffing is not
// worth the read: a mislabeled file fails its decoder and falls back to
// the copy-through path anyway.
func KindOf(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))

	switch {
	case imageExts[ext]:
		return KindImage
	case videoExts[ext]:
		return KindVideo
	default:
		return KindUnknown
	}
}

// IsMedia reports whether the path looks like a photo or video asset.
// The ingest adapters use it to skip sidecar and junk files.
func IsMedia(path string) bool {
	return KindOf(path) != KindUnknown
}
