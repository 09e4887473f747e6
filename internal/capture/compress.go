package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // PNG input support

	"golang.org/x/image/draw"
)

// DefaultMaxDimension is the longest side of a stored photo in pixels.
const DefaultMaxDimension = 1280

// JPEGQuality is the quality photos are re-encoded with.
const JPEGQuality = 80

// Source images are rejected before decoding when a side exceeds
// MaxSourceDimension or the pixel count exceeds MaxSourcePixels.
const (
	MaxSourceDimension = 12000
	MaxSourcePixels    = 64_000_000
)

// ErrImageTooLarge is returned for images beyond the source bounds.
var ErrImageTooLarge = errors.New("image too large")

// Compress decodes a JPEG or PNG image, scales it down so that its longest
// side is at most maxDim pixels, and re-encodes it as JPEG. Images already
// within bounds are only re-encoded. maxDim <= 0 disables scaling.
func Compress(data []byte, maxDim int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width > MaxSourceDimension || cfg.Height > MaxSourceDimension ||
		int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	if w, h := scaledSize(b.Dx(), b.Dy(), maxDim); w != b.Dx() || h != b.Dy() {
		img = resizeImage(img, w, h)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// scaledSize keeps the aspect ratio and never upscales.
func scaledSize(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}

func resizeImage(src image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}
