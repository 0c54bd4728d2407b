package cache

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// MaxEntryBytes bounds a decompressed cache entry: an RGBA placeholder of 2048x2048.
// Entries come back from a shared store, so the decoder refuses anything larger.
const MaxEntryBytes = 2048 * 2048 * 4

// pixelCodec packs RGBA placeholder buffers for the store. Both halves are safe for
// concurrent EncodeAll/DecodeAll calls, so one instance serves every request.
type pixelCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var pixels = newPixelCodec()

func newPixelCodec() *pixelCodec {
	// Placeholders are smooth gradients and compress well even at the fastest level.
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithEncoderCRC(true),
	)
	if err != nil {
		panic(fmt.Sprintf("cache: zstd encoder: %v", err))
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(MaxEntryBytes),
		zstd.WithDecoderLowmem(true),
	)
	if err != nil {
		panic(fmt.Sprintf("cache: zstd decoder: %v", err))
	}
	return &pixelCodec{enc: enc, dec: dec}
}

// pack compresses one placeholder buffer into a single zstd frame.
func (c *pixelCodec) pack(pix []byte) []byte {
	return c.enc.EncodeAll(pix, make([]byte, 0, len(pix)/8))
}

// unpack restores a buffer of exactly want bytes. Frames that decode to any other size,
// or that claim more than MaxEntryBytes, are rejected.
func (c *pixelCodec) unpack(packed []byte, want int) ([]byte, error) {
	if want <= 0 || want > MaxEntryBytes {
		return nil, fmt.Errorf("cache: entry size %d out of range", want)
	}
	pix, err := c.dec.DecodeAll(packed, make([]byte, 0, want))
	if err != nil {
		return nil, fmt.Errorf("cache: unpack entry: %w", err)
	}
	if len(pix) != want {
		return nil, fmt.Errorf("cache: entry holds %d bytes, want %d", len(pix), want)
	}
	return pix, nil
}
