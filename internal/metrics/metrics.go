// Package metrics exposes Prometheus collectors for the letter service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	uploadsTotal               *prometheus.CounterVec
	uploadBytesTotal           prometheus.Counter
	llmCallDurationSeconds     *prometheus.HistogramVec
	llmCallsTotal              *prometheus.CounterVec
	logoLookupsTotal           *prometheus.CounterVec
	logoRateLimitDelaySeconds  prometheus.Histogram
	activeWorkers              prometheus.Gauge
	sseStreamsActive           prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		uploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "letterforge_uploads_total",
				Help: "Total uploaded documents, labeled by kind.",
			},
			[]string{"kind"},
		)

		uploadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "letterforge_upload_bytes_total",
				Help: "Total bytes received across uploaded documents.",
			},
		)

		llmCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "letterforge_llm_call_duration_seconds",
				Help:    "Histogram of model call latencies, labeled by operation.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60, 120},
			},
			[]string{"operation"},
		)

		llmCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "letterforge_llm_calls_total",
				Help: "Total model calls, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)

		logoLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "letterforge_logo_lookups_total",
				Help: "Total logo lookups, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		logoRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "letterforge_logo_rate_limit_delay_seconds",
				Help:    "Histogram of waits imposed by the logo scraper rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "letterforge_active_workers",
				Help: "Number of workers currently processing a submission.",
			},
		)

		sseStreamsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "letterforge_sse_streams_active",
				Help: "Number of open progress event streams.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpload records one accepted document.
func ObserveUpload(kind string, size int) {
	uploadsTotal.WithLabelValues(kind).Inc()
	if size > 0 {
		uploadBytesTotal.Add(float64(size))
	}
}

// ObserveLLMCall records one model call with its outcome and latency.
func ObserveLLMCall(operation string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	llmCallsTotal.WithLabelValues(operation, outcome).Inc()
	llmCallDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveLogoLookup increments the logo lookup counter for the given outcome.
func ObserveLogoLookup(outcome string) {
	logoLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveLogoRateLimitDelay records the duration of a rate limit wait.
func ObserveLogoRateLimitDelay(duration time.Duration) {
	logoRateLimitDelaySeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// IncActiveStreams increments the open event stream gauge.
func IncActiveStreams() {
	sseStreamsActive.Inc()
}

// DecActiveStreams decrements the open event stream gauge.
func DecActiveStreams() {
	sseStreamsActive.Dec()
}
