package blurhash

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
)

// DefaultSize is the edge length DataURL uses when width or height is zero.
const DefaultSize = 32

const dataURLPrefix = "data:image/png;base64,"

// DataURL decodes hash and returns it as a base64 PNG data URL, ready for an <img src>.
// Zero dimensions fall back to DefaultSize. Negative dimensions leave nothing to paint on and
// return ErrNoSurface; callers should treat any error as "no placeholder".
func DataURL(hash string, width, height int) (string, error) {
	if width == 0 {
		width = DefaultSize
	}
	if height == 0 {
		height = DefaultSize
	}
	if width < 0 || height < 0 {
		return "", fmt.Errorf("%w: %dx%d", ErrNoSurface, width, height)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, DecodeImage(hash, width, height, 1)); err != nil {
		return "", fmt.Errorf("blurhash: paint: %w", err)
	}
	return PNGDataURL(buf.Bytes()), nil
}

// PNGDataURL wraps already encoded PNG bytes in a data URL.
func PNGDataURL(pngBytes []byte) string {
	return dataURLPrefix + base64.StdEncoding.EncodeToString(pngBytes)
}
