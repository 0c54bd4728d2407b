package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/svanichkin/blurdog/blurhash"
)

const canonical = "LEHV6nWB2yk8pyo0adR*.7kCMdnj"

// failingStore errors on every call.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

// mapStore records the TTLs it was given.
type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMapStore() *mapStore {
	return &mapStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (s *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.ttls[key] = ttl
	return nil
}

func countingPlaceholders(t *testing.T, store Store, ttl time.Duration) (*Placeholders, *int) {
	p := NewPlaceholders(store, ttl, zaptest.NewLogger(t))
	calls := 0
	p.decode = func(hash string, w, h int, punch float64) []byte {
		calls++
		return blurhash.Decode(hash, w, h, punch)
	}
	return p, &calls
}

func TestGetOrDecode_HitAfterMiss(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(16, time.Minute)
	p, calls := countingPlaceholders(t, store, 0)

	first := p.GetOrDecode(ctx, canonical, 32, 32, 1)
	second := p.GetOrDecode(ctx, canonical, 32, 32, 1)

	require.Len(t, first, 32*32*4)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, blurhash.Decode(canonical, 32, 32, 1), first)
}

func TestGetOrDecode_KeysBySizeAndPunch(t *testing.T) {
	ctx := context.Background()
	p, calls := countingPlaceholders(t, NewMemoryStore(16, time.Minute), 0)

	p.GetOrDecode(ctx, canonical, 32, 32, 1)
	p.GetOrDecode(ctx, canonical, 16, 32, 1)
	p.GetOrDecode(ctx, canonical, 32, 32, 2)
	p.GetOrDecode(ctx, canonical, 32, 32, 0) // same as punch 1

	assert.Equal(t, 3, *calls)
}

func TestGetOrDecode_StoreFailure(t *testing.T) {
	p, calls := countingPlaceholders(t, failingStore{}, 0)

	pix := p.GetOrDecode(context.Background(), canonical, 8, 8, 1)

	assert.Equal(t, blurhash.Decode(canonical, 8, 8, 1), pix)
	assert.Equal(t, 1, *calls)
}

func TestGetOrDecode_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	require.NoError(t, store.Set(ctx, Key(canonical, 8, 8, 1), []byte("not zstd"), time.Minute))
	p, calls := countingPlaceholders(t, store, 0)

	pix := p.GetOrDecode(ctx, canonical, 8, 8, 1)

	assert.Len(t, pix, 8*8*4)
	assert.Equal(t, 1, *calls)
	packed, ok, err := store.Get(ctx, Key(canonical, 8, 8, 1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, []byte("not zstd"), packed)
}

func TestGetOrDecode_FixedTTL(t *testing.T) {
	store := newMapStore()
	p := NewPlaceholders(store, 0, nil)

	p.GetOrDecode(context.Background(), canonical, 4, 4, 1)
	assert.Equal(t, DefaultTTL, store.ttls[Key(canonical, 4, 4, 1)])
}

func TestPixelCodec_RoundTrip(t *testing.T) {
	pix := blurhash.Decode(canonical, 64, 64, 1)

	packed := pixels.pack(pix)

	out, err := pixels.unpack(packed, len(pix))
	require.NoError(t, err)
	assert.Equal(t, pix, out)
}

func TestPixelCodec_RejectsBadFrames(t *testing.T) {
	pix := blurhash.Decode(canonical, 8, 8, 1)

	_, err := pixels.unpack(pixels.pack(pix), len(pix)+4)
	assert.ErrorContains(t, err, "want")

	_, err = pixels.unpack([]byte("not zstd at all"), len(pix))
	assert.Error(t, err)

	_, err = pixels.unpack(pixels.pack(pix), MaxEntryBytes+1)
	assert.ErrorContains(t, err, "out of range")

	// a frame claiming more than MaxEntryBytes is refused from its header
	huge := pixels.enc.EncodeAll(make([]byte, MaxEntryBytes+1), nil)
	out, err := pixels.unpack(huge, len(pix))
	assert.Error(t, err)
	assert.Nil(t, out)
}

func TestGetOrDecode_OversizedEntry(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	huge := pixels.enc.EncodeAll(make([]byte, MaxEntryBytes+1), nil)
	require.NoError(t, store.Set(ctx, Key(canonical, 8, 8, 1), huge, time.Minute))
	p, calls := countingPlaceholders(t, store, 0)

	pix := p.GetOrDecode(ctx, canonical, 8, 8, 1)

	assert.Equal(t, blurhash.Decode(canonical, 8, 8, 1), pix)
	assert.Equal(t, 1, *calls)
	packed, _, _ := store.Get(ctx, Key(canonical, 8, 8, 1))
	restored, err := pixels.unpack(packed, len(pix))
	require.NoError(t, err)
	assert.Equal(t, pix, restored)
}

func TestGetOrDecode_BypassesStoreWhenTooLarge(t *testing.T) {
	store := newMapStore()
	p, calls := countingPlaceholders(t, store, 0)

	pix := p.GetOrDecode(context.Background(), "00"+blurhash.Encode83(0x336699, 4), 2049, 2048, 1)

	assert.Len(t, pix, 2049*2048*4)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, store.data)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "blurhash:v1:"+canonical+":32x16:1.5", Key(canonical, 32, 16, 1.5))
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2, 20*time.Millisecond)

	require.NoError(t, store.Set(ctx, "a", []byte("1"), 0))
	v, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	assert.Eventually(t, func() bool {
		_, ok, _ := store.Get(ctx, "a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_Bounded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2, time.Minute)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, store.Set(ctx, k, []byte(k), 0))
	}
	assert.Equal(t, 2, store.Len())
	_, ok, _ := store.Get(ctx, "a")
	assert.False(t, ok)
}

func TestDialRedis_Errors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := DialRedis(ctx, "memcached://localhost")
	assert.ErrorContains(t, err, "parse redis url")

	_, err = DialRedis(ctx, "redis://127.0.0.1:1/0")
	assert.ErrorContains(t, err, "ping redis")
}
