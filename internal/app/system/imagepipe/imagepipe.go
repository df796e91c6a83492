// Package imagepipe compresses uploaded images for inline storage.
// Every upload is decoded, EXIF-rotated, bounded to a maximum width,
// and re-encoded as JPEG; if the result still exceeds the byte budget
// its dimensions are halved until it fits.
package imagepipe

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"
)

const (
	DefaultMaxWidth = 1600
	DefaultMaxBytes = 1 << 20
	DefaultQuality  = 80
)

// Compressor is an image compression pipeline. Use New to create one.
type Compressor struct {
	maxWidth int
	maxBytes int
	quality  int
	logger   *zap.Logger
}

// New creates a Compressor. Zero or negative parameters fall back to
// the defaults.
func New(maxWidth, maxBytes, quality int, logger *zap.Logger) *Compressor {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{
		maxWidth: maxWidth,
		maxBytes: maxBytes,
		quality:  quality,
		logger:   logger,
	}
}

// Compress turns a raw JPEG, PNG, or GIF into a bounded JPEG blob.
// Images narrower than the width limit are never upscaled.
func (c *Compressor) Compress(ctx context.Context, raw []byte) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	start := time.Now()

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	img = applyOrientation(img, orientationOf(raw))

	if img.Bounds().Dx() > c.maxWidth {
		img = imaging.Resize(img, c.maxWidth, 0, imaging.Lanczos)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
			return nil, "", fmt.Errorf("encode jpeg: %w", err)
		}
		if buf.Len() <= c.maxBytes {
			bounds := img.Bounds()
			c.logger.Debug("image compressed",
				zap.String("format", format),
				zap.Int("in_bytes", len(raw)),
				zap.Int("out_bytes", buf.Len()),
				zap.Int("width", bounds.Dx()),
				zap.Int("height", bounds.Dy()),
				zap.Duration("took", time.Since(start)))
			return buf.Bytes(), "image/jpeg", nil
		}

		bounds := img.Bounds()
		w, h := bounds.Dx()/2, bounds.Dy()/2
		if w < 1 || h < 1 {
			return nil, "", fmt.Errorf("image does not fit %d bytes", c.maxBytes)
		}
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}
}

// orientationOf reads the EXIF orientation tag, defaulting to 1
// (upright). Absent or unreadable EXIF is not an error.
func orientationOf(raw []byte) int {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// applyOrientation transforms an image according to EXIF orientation value.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
