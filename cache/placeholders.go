package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/svanichkin/blurdog/blurhash"
	"github.com/svanichkin/blurdog/metrics"
)

// DefaultTTL is how long a rendered placeholder stays cached. Pixels for a given
// hash and size never change, so the TTL only bounds memory.
const DefaultTTL = 24 * time.Hour

// keyVersion is bumped whenever the stored layout changes.
const keyVersion = "v1"

// Placeholders decodes BlurHash strings through a Store.
type Placeholders struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
	// decode is swapped in tests to count decodes.
	decode func(hash string, width, height int, punch float64) []byte
}

// NewPlaceholders returns a get-or-set cache over store. A zero ttl means DefaultTTL.
func NewPlaceholders(store Store, ttl time.Duration, logger *zap.Logger) *Placeholders {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Placeholders{
		store:  store,
		ttl:    ttl,
		logger: logger,
		decode: blurhash.Decode,
	}
}

// Key is the store key of a rendered placeholder.
func Key(hash string, width, height int, punch float64) string {
	return fmt.Sprintf("blurhash:%s:%s:%dx%d:%s", keyVersion, hash, width, height,
		strconv.FormatFloat(punch, 'g', -1, 64))
}

// GetOrDecode returns the RGBA pixels for hash, decoding and storing them on a miss.
// Store failures are logged and never fail the call. Buffers larger than MaxEntryBytes
// bypass the store.
func (p *Placeholders) GetOrDecode(ctx context.Context, hash string, width, height int, punch float64) []byte {
	if punch <= 0 {
		punch = 1
	}
	size := width * height * 4
	if width <= 0 || height <= 0 || size > MaxEntryBytes {
		return p.decodeTimed(hash, width, height, punch)
	}
	key := Key(hash, width, height, punch)

	if packed, ok, err := p.store.Get(ctx, key); err != nil {
		metrics.RecordCacheLookup(metrics.CacheError)
		p.logger.Warn("placeholder cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		pix, err := pixels.unpack(packed, size)
		if err == nil {
			metrics.RecordCacheLookup(metrics.CacheHit)
			return pix
		}
		metrics.RecordCacheLookup(metrics.CacheError)
		p.logger.Warn("discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
	} else {
		metrics.RecordCacheLookup(metrics.CacheMiss)
	}

	pix := p.decodeTimed(hash, width, height, punch)
	if err := p.store.Set(ctx, key, pixels.pack(pix), p.ttl); err != nil {
		p.logger.Warn("placeholder cache write failed", zap.String("key", key), zap.Error(err))
	}
	return pix
}

func (p *Placeholders) decodeTimed(hash string, width, height int, punch float64) []byte {
	start := time.Now()
	pix := p.decode(hash, width, height, punch)
	metrics.RecordDecode(time.Since(start))
	return pix
}
