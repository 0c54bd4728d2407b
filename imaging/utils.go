// Package imaging holds the raster helpers around the BlurHash codec: decoding uploads,
// normalising pixel layouts and resizing.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// EncodeMaxSide is the longest edge an image is reduced to before BlurHash encoding.
// The hash only keeps a few low frequencies, so more pixels add cost and nothing else.
const EncodeMaxSide = 64

// DefaultMaxPixels caps the decoded size of an upload (40 MP).
const DefaultMaxPixels = 40_000_000

var (
	ErrEmptyImage  = errors.New("imaging: empty image data")
	ErrInvalidSize = errors.New("imaging: invalid dimensions")
	ErrTooLarge    = errors.New("imaging: image too large")
)

// Decode reads a PNG, JPEG, GIF or WebP image. The header is checked first and images
// with more than maxPixels pixels are rejected with ErrTooLarge before any pixel data is
// allocated. maxPixels <= 0 means DefaultMaxPixels.
func Decode(r io.Reader, maxPixels int) (image.Image, string, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("imaging: decode: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrInvalidSize, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("imaging: decode: %w", err)
	}
	return img, format, nil
}

// ImageToNRGBA copies any image.Image into an *image.NRGBA with bounds starting at (0,0).
func ImageToNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// Downscale shrinks img so its longest edge is at most maxSide, keeping the aspect ratio.
// Images already small enough are returned as NRGBA copies.
func Downscale(img image.Image, maxSide int) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return ImageToNRGBA(img)
	}

	scale := float64(maxSide) / float64(max(w, h))
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))

	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Upscale stretches img to width x height with bilinear filtering. Placeholders are blurry
// by nature, so interpolating a small decode is indistinguishable from decoding large.
func Upscale(img *image.NRGBA, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	if img.Bounds().Dx() == width && img.Bounds().Dy() == height {
		return img, nil
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

// FitWithin returns width x height shrunk proportionally so neither edge exceeds limit.
func FitWithin(width, height, limit int) (int, int) {
	if width <= limit && height <= limit {
		return width, height
	}
	scale := float64(limit) / float64(max(width, height))
	return max(1, int(float64(width)*scale)), max(1, int(float64(height)*scale))
}
