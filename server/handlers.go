package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"runtime"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/svanichkin/blurdog/blurhash"
	"github.com/svanichkin/blurdog/imaging"
	"github.com/svanichkin/blurdog/metrics"
)

// MaxOutputSize bounds the edge of a rendered placeholder.
const MaxOutputSize = 2048

// placeholderResponse is the JSON form of a rendered placeholder.
type placeholderResponse struct {
	Hash         string `json:"hash"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	DataURL      string `json:"dataUrl"`
	AverageColor string `json:"averageColor"`
}

type batchRequest struct {
	Hashes []string `json:"hashes"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Punch  float64  `json:"punch"`
}

type batchResponse struct {
	Placeholders map[string]string `json:"placeholders"`
	Errors       map[string]string `json:"errors,omitempty"`
}

type encodeResponse struct {
	Hash   string `json:"hash"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type validateResponse struct {
	Valid bool   `json:"valid"`
	X     int    `json:"x,omitempty"`
	Y     int    `json:"y,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handlePlaceholder(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hash := q.Get("hash")
	if err := blurhash.Validate(hash); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	width, err := intParam(q.Get("w"), blurhash.DefaultSize, 1, MaxOutputSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "w: "+err.Error())
		return
	}
	height, err := intParam(q.Get("h"), blurhash.DefaultSize, 1, MaxOutputSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "h: "+err.Error())
		return
	}
	punch, err := punchParam(q.Get("punch"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "punch: "+err.Error())
		return
	}

	format := q.Get("format")
	if format == "" {
		format = "png"
	}
	if format != "png" && format != "dataurl" && format != "json" {
		writeError(w, http.StatusBadRequest, "format must be png, dataurl or json")
		return
	}

	pngBytes, err := s.renderPNG(r.Context(), hash, width, height, punch)
	if err != nil {
		s.logger.Error("render placeholder", zap.String("hash", hash), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}

	// a hash fully determines its pixels
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	switch format {
	case "png":
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(pngBytes)))
		w.WriteHeader(http.StatusOK)
		w.Write(pngBytes)
	case "dataurl":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(blurhash.PNGDataURL(pngBytes)))
	case "json":
		avg, _ := blurhash.AverageColor(hash)
		writeJSON(w, http.StatusOK, placeholderResponse{
			Hash:         hash,
			Width:        width,
			Height:       height,
			DataURL:      blurhash.PNGDataURL(pngBytes),
			AverageColor: fmt.Sprintf("#%02x%02x%02x", avg.R, avg.G, avg.B),
		})
	}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Hashes) == 0 {
		writeError(w, http.StatusBadRequest, "hashes must not be empty")
		return
	}
	if len(req.Hashes) > s.opts.MaxBatch {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d hashes per request", s.opts.MaxBatch))
		return
	}
	width, height := req.Width, req.Height
	if width == 0 {
		width = blurhash.DefaultSize
	}
	if height == 0 {
		height = blurhash.DefaultSize
	}
	if width < 1 || width > MaxOutputSize || height < 1 || height > MaxOutputSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("width and height must be between 1 and %d", MaxOutputSize))
		return
	}
	punch := 1.0
	if req.Punch != 0 {
		var err error
		if punch, err = checkPunch(req.Punch); err != nil {
			writeError(w, http.StatusBadRequest, "punch: "+err.Error())
			return
		}
	}

	resp := batchResponse{Placeholders: map[string]string{}}
	var todo []string
	seen := make(map[string]bool, len(req.Hashes))
	for _, h := range req.Hashes {
		if seen[h] {
			continue
		}
		seen[h] = true
		if err := blurhash.Validate(h); err != nil {
			if resp.Errors == nil {
				resp.Errors = map[string]string{}
			}
			resp.Errors[h] = err.Error()
			continue
		}
		todo = append(todo, h)
	}

	urls := s.renderAll(r.Context(), todo, width, height, punch)
	for i, h := range todo {
		if urls[i] == "" {
			if resp.Errors == nil {
				resp.Errors = map[string]string{}
			}
			resp.Errors[h] = "render failed"
			continue
		}
		resp.Placeholders[h] = urls[i]
	}
	writeJSON(w, http.StatusOK, resp)
}

// renderAll renders hashes into data URLs on a bounded pool of workers.
// A failed render leaves an empty string at its index.
func (s *Server) renderAll(ctx context.Context, hashes []string, width, height int, punch float64) []string {
	out := make([]string, len(hashes))
	jobs := make(chan int)
	workers := min(runtime.NumCPU(), len(hashes))

	var wg sync.WaitGroup
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				pngBytes, err := s.renderPNG(ctx, hashes[i], width, height, punch)
				if err != nil {
					s.logger.Warn("batch render failed", zap.String("hash", hashes[i]), zap.Error(err))
					continue
				}
				out[i] = blurhash.PNGDataURL(pngBytes)
			}
		}()
	}
	for i := range hashes {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, err := intParam(q.Get("x"), 4, 1, 9)
	if err != nil {
		writeError(w, http.StatusBadRequest, "x: "+err.Error())
		return
	}
	y, err := intParam(q.Get("y"), 3, 1, 9)
	if err != nil {
		writeError(w, http.StatusBadRequest, "y: "+err.Error())
		return
	}

	img, format, err := imaging.Decode(http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes), s.opts.MaxPixels)
	if err != nil {
		metrics.RecordEncode(false)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, imaging.ErrTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b := img.Bounds()
	hash, err := blurhash.Encode(imaging.Downscale(img, imaging.EncodeMaxSide), x, y)
	if err != nil {
		metrics.RecordEncode(false)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.RecordEncode(true)
	s.logger.Debug("encoded image", zap.String("format", format), zap.String("hash", hash))
	writeJSON(w, http.StatusOK, encodeResponse{Hash: hash, Width: b.Dx(), Height: b.Dy()})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if err := blurhash.Validate(hash); err != nil {
		writeJSON(w, http.StatusOK, validateResponse{Error: err.Error()})
		return
	}
	x, y, _ := blurhash.Components(hash)
	writeJSON(w, http.StatusOK, validateResponse{Valid: true, X: x, Y: y})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// renderPNG decodes hash at no more than MaxDecodeSize per edge, scales up to the
// requested size and encodes the result as PNG.
func (s *Server) renderPNG(ctx context.Context, hash string, width, height int, punch float64) ([]byte, error) {
	dw, dh := imaging.FitWithin(width, height, s.opts.MaxDecodeSize)
	pix := s.placeholders.GetOrDecode(ctx, hash, dw, dh, punch)

	img := &image.NRGBA{Pix: pix, Stride: dw * 4, Rect: image.Rect(0, 0, dw, dh)}
	img, err := imaging.Upscale(img, width, height)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func intParam(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("must be between %d and %d", lo, hi)
	}
	return v, nil
}

// MaxPunch bounds the AC contrast factor accepted from clients.
const MaxPunch = 10

var errPunchRange = fmt.Errorf("must be a number in (0, %d]", MaxPunch)

func punchParam(raw string) (float64, error) {
	if raw == "" {
		return 1, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errPunchRange
	}
	return checkPunch(v)
}

func checkPunch(v float64) (float64, error) {
	if !(v > 0 && v <= MaxPunch) {
		return 0, errPunchRange
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
