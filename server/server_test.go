package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/svanichkin/blurdog/blurhash"
	"github.com/svanichkin/blurdog/cache"
)

const canonical = "LEHV6nWB2yk8pyo0adR*.7kCMdnj"

func newTestServer(t *testing.T, opts Options) http.Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	placeholders := cache.NewPlaceholders(cache.NewMemoryStore(64, time.Minute), 0, logger)
	return New(opts, placeholders, logger).Handler()
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func placeholderURL(hash string, params string) string {
	u := "/v1/placeholder?hash=" + url.QueryEscape(hash)
	if params != "" {
		u += "&" + params
	}
	return u
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestPlaceholder_PNG(t *testing.T) {
	h := newTestServer(t, Options{})

	rec := get(t, h, placeholderURL(canonical, ""))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "immutable")
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, blurhash.DefaultSize, blurhash.DefaultSize), img.Bounds())
}

func TestPlaceholder_MatchesDecoder(t *testing.T) {
	h := newTestServer(t, Options{})

	rec := get(t, h, placeholderURL(canonical, "w=20&h=10"))
	require.Equal(t, http.StatusOK, rec.Code)
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)

	want := blurhash.DecodeImage(canonical, 20, 10, 1)
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			got := color.NRGBAModel.Convert(img.At(x, y))
			require.Equal(t, want.NRGBAAt(x, y), got, "pixel %d,%d", x, y)
		}
	}
}

func TestPlaceholder_UpscalesBeyondDecodeCap(t *testing.T) {
	h := newTestServer(t, Options{MaxDecodeSize: 64})

	rec := get(t, h, placeholderURL(canonical, "w=256&h=128"))

	require.Equal(t, http.StatusOK, rec.Code)
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 256, 128), img.Bounds())
}

func TestPlaceholder_DataURL(t *testing.T) {
	h := newTestServer(t, Options{})

	rec := get(t, h, placeholderURL(canonical, "format=dataurl&w=8&h=8"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "data:image/png;base64,"))
}

func TestPlaceholder_JSON(t *testing.T) {
	h := newTestServer(t, Options{})

	rec := get(t, h, placeholderURL(canonical, "format=json&w=16&h=9&punch=1.5"))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp placeholderResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, canonical, resp.Hash)
	assert.Equal(t, 16, resp.Width)
	assert.Equal(t, 9, resp.Height)
	assert.Equal(t, "#979695", resp.AverageColor)
	assert.True(t, strings.HasPrefix(resp.DataURL, "data:image/png;base64,"))
}

func TestPlaceholder_BadRequests(t *testing.T) {
	h := newTestServer(t, Options{})

	for _, target := range []string{
		"/v1/placeholder",
		placeholderURL("LEHV", ""),
		placeholderURL(canonical+"00", ""),
		placeholderURL(canonical, "w=0"),
		placeholderURL(canonical, "w=abc"),
		placeholderURL(canonical, "h=99999"),
		placeholderURL(canonical, "punch=-1"),
		placeholderURL(canonical, "punch=1e300"),
		placeholderURL(canonical, "format=gif"),
	} {
		rec := get(t, h, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		var body map[string]string
		decodeJSON(t, rec, &body)
		assert.NotEmpty(t, body["error"], target)
	}
}

func TestBatch(t *testing.T) {
	h := newTestServer(t, Options{})
	flat := "00" + blurhash.Encode83(0x336699, 4)
	body, _ := json.Marshal(batchRequest{Hashes: []string{canonical, flat, canonical, "bad"}, Width: 8, Height: 8})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/placeholders", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp batchResponse
	decodeJSON(t, rec, &resp)
	assert.Len(t, resp.Placeholders, 2)
	assert.Contains(t, resp.Placeholders, canonical)
	assert.Contains(t, resp.Placeholders, flat)
	assert.Contains(t, resp.Errors, "bad")

	want, err := blurhash.DataURL(flat, 8, 8)
	require.NoError(t, err)
	assert.Equal(t, want, resp.Placeholders[flat])
}

func TestBatch_BadRequests(t *testing.T) {
	h := newTestServer(t, Options{MaxBatch: 2})

	for _, body := range []string{
		`not json`,
		`{"hashes": []}`,
		`{"hashes": ["a", "b", "c"]}`,
		`{"hashes": ["` + canonical + `"], "width": 5000}`,
		`{"hashes": ["` + canonical + `"], "punch": -2}`,
		`{"hashes": ["` + canonical + `"], "punch": 1e300}`,
		`{"hashes": ["` + canonical + `"], "punch": 10.5}`,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/placeholders", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestEncode(t *testing.T) {
	h := newTestServer(t, Options{})

	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			src.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y * 2), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/encode?x=5&y=4", &buf))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp encodeResponse
	decodeJSON(t, rec, &resp)
	assert.NoError(t, blurhash.Validate(resp.Hash))
	assert.Equal(t, 200, resp.Width)
	assert.Equal(t, 100, resp.Height)
	x, y, err := blurhash.Components(resp.Hash)
	require.NoError(t, err)
	assert.Equal(t, 5, x)
	assert.Equal(t, 4, y)
}

func TestEncode_Errors(t *testing.T) {
	h := newTestServer(t, Options{MaxUploadBytes: 16})

	for _, tc := range []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{name: "garbage", target: "/v1/encode", body: "nope", want: http.StatusBadRequest},
		{name: "empty", target: "/v1/encode", body: "", want: http.StatusBadRequest},
		{name: "too_large", target: "/v1/encode", body: strings.Repeat("x", 64), want: http.StatusRequestEntityTooLarge},
		{name: "components", target: "/v1/encode?x=10", body: "nope", want: http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tc.target, strings.NewReader(tc.body)))
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestEncode_RejectsHugeDimensions(t *testing.T) {
	h := newTestServer(t, Options{})

	// PNG signature plus an IHDR declaring 20000x20000 RGB, no pixel data
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], 20000)
	binary.BigEndian.PutUint32(ihdr[4:], 20000)
	ihdr[8], ihdr[9] = 8, 2
	chunk := append([]byte("IHDR"), ihdr...)
	var body bytes.Buffer
	body.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&body, binary.BigEndian, uint32(len(ihdr)))
	body.Write(chunk)
	binary.Write(&body, binary.BigEndian, crc32.ChecksumIEEE(chunk))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/encode", &body))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
}

func TestValidateEndpoint(t *testing.T) {
	h := newTestServer(t, Options{})

	var ok validateResponse
	decodeJSON(t, get(t, h, "/v1/validate?hash="+url.QueryEscape(canonical)), &ok)
	assert.Equal(t, validateResponse{Valid: true, X: 4, Y: 3}, ok)

	var bad validateResponse
	decodeJSON(t, get(t, h, "/v1/validate?hash=LEHV"), &bad)
	assert.False(t, bad.Valid)
	assert.Contains(t, bad.Error, "at least 6")
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, Options{RateLimit: 1, RateBurst: 1})

	assert.Equal(t, http.StatusOK, get(t, h, "/v1/validate?hash=x").Code)
	rec := get(t, h, "/v1/validate?hash=x")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// health checks are not rate limited
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
}

func TestHealthAndRequestID(t *testing.T) {
	h := newTestServer(t, Options{})

	rec := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "dog-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "dog-42", rec.Header().Get(RequestIDHeader))
}

func TestNotFoundAndMetrics(t *testing.T) {
	h := newTestServer(t, Options{})

	assert.Equal(t, http.StatusNotFound, get(t, h, "/v2/nothing").Code)

	get(t, h, placeholderURL(canonical, "w=4&h=4"))
	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blurdog_http_requests_total")
}

func TestListenAndServe_Shutdown(t *testing.T) {
	placeholders := cache.NewPlaceholders(cache.NewMemoryStore(4, time.Minute), 0, nil)
	srv := New(Options{Addr: "127.0.0.1:0"}, placeholders, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
