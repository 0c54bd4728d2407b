// Package metrics holds the Prometheus collectors of the placeholder service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "blurdog",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blurdog",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "blurdog",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"method", "path"},
	)

	decodes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blurdog",
			Subsystem: "blurhash",
			Name:      "decodes_total",
			Help:      "Total number of BlurHash decodes performed.",
		},
	)

	decodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "blurdog",
			Subsystem: "blurhash",
			Name:      "decode_duration_seconds",
			Help:      "Duration of BlurHash decodes.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
		},
	)

	encodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blurdog",
			Subsystem: "blurhash",
			Name:      "encodes_total",
			Help:      "Total number of BlurHash encodes by result.",
		},
		[]string{"success"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blurdog",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Placeholder cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		decodes,
		decodeDuration,
		encodes,
		cacheLookups,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.Status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordDecode records one decode and its duration.
func RecordDecode(duration time.Duration) {
	decodes.Inc()
	decodeDuration.Observe(duration.Seconds())
}

// RecordEncode records one encode attempt.
func RecordEncode(success bool) {
	encodes.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// RecordCacheLookup records a cache lookup outcome (CacheHit, CacheMiss or CacheError).
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// StatusRecorder captures the status code written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

func (r *StatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	if r.Status == 0 {
		r.Status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath keeps label cardinality bounded: only known routes are labeled as-is.
func canonicalPath(raw string) string {
	switch raw {
	case "/v1/placeholder", "/v1/placeholders", "/v1/encode", "/v1/validate", "/healthz":
		return raw
	default:
		return "other"
	}
}
