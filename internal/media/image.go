package media

import (
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/google/renameio/v2"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	// Decode-only format registrations.
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupported means the file's format cannot be recompressed in
// process. The compression phase copies such files through at ratio 1.0.
var ErrUnsupported = errors.New("media: unsupported format")

// minDimension floors scaled output so aggressive percentages cannot
// collapse an image to zero pixels.
const minDimension = 1

// CompressImage decodes src, scales it to resizePct of its original
// dimensions with Catmull-Rom resampling, and re-encodes it atomically at
// dst in the source's own format (JPEG output honors quality). Returns the
// encoded byte size. Formats we can decode but not encode (webp, tiff,
// heic) report ErrUnsupported.
func CompressImage(src, dst string, resizePct, quality int) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("media: opening %s: %w", src, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("%w: decoding %s: %w", ErrUnsupported, src, err)
	}

	encode, ok := encoderFor(format, quality)
	if !ok {
		return 0, fmt.Errorf("%w: no %s encoder", ErrUnsupported, format)
	}

	scaled := scale(img, resizePct)

	pending, err := renameio.TempFile("", dst)
	if err != nil {
		return 0, fmt.Errorf("media: staging %s: %w", dst, err)
	}
	defer pending.Cleanup()

	if err := encode(pending, scaled); err != nil {
		return 0, fmt.Errorf("media: encoding %s: %w", dst, err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("media: replacing %s: %w", dst, err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return 0, fmt.Errorf("media: sizing %s: %w", dst, err)
	}

	return info.Size(), nil
}

// encodeFunc writes an image in one concrete format.
type encodeFunc func(w *renameio.PendingFile, img image.Image) error

// encoderFor maps a decoded format name to its encoder, or reports false
// for decode-only formats.
func encoderFor(format string, quality int) (encodeFunc, bool) {
	switch format {
	case "jpeg":
		return func(w *renameio.PendingFile, img image.Image) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
		}, true
	case "png":
		return func(w *renameio.PendingFile, img image.Image) error {
			return png.Encode(w, img)
		}, true
	case "gif":
		return func(w *renameio.PendingFile, img image.Image) error {
			return gif.Encode(w, img, nil)
		}, true
	case "bmp":
		return func(w *renameio.PendingFile, img image.Image) error {
			return bmp.Encode(w, img)
		}, true
	default:
		return nil, false
	}
}

// scale resamples img to pct percent of its original dimensions. 100 (or
// anything above) is returned unscaled.
func scale(img image.Image, pct int) image.Image {
	if pct >= 100 {
		return img
	}

	bounds := img.Bounds()
	w := bounds.Dx() * pct / 100
	h := bounds.Dy() * pct / 100

	if w < minDimension {
		w = minDimension
	}

	if h < minDimension {
		h = minDimension
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), img, bounds, draw.Over, nil)

	return out
}
