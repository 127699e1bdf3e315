// Package metrics exposes Prometheus collectors for the signature service.
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
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	signatureRequestsTotal         *prometheus.CounterVec
	signatureStageDurationSeconds  *prometheus.HistogramVec
	signaturePublishAttemptsTotal  *prometheus.CounterVec
	signatureHeadshotUploadedBytes prometheus.Histogram

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

		signatureRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signature_requests_total",
				Help: "Total number of signature generation runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		signatureStageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signature_stage_duration_seconds",
				Help:    "Histogram of pipeline stage latencies, labeled by stage.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"stage"},
		)

		signaturePublishAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signature_publish_attempts_total",
				Help: "Total number of headshot upload attempts, labeled by result.",
			},
			[]string{"result"},
		)

		signatureHeadshotUploadedBytes = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "signature_headshot_uploaded_bytes",
				Help:    "Size of normalized headshots written to the blob store.",
				Buckets: prometheus.ExponentialBuckets(4<<10, 2, 8),
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

// ObserveSignature counts one finished generation run.
func ObserveSignature(outcome string) {
	signatureRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObservePublishAttempt counts one upload attempt ("ok", "retry" or "error").
func ObservePublishAttempt(result string) {
	signaturePublishAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveUploadedBytes records the size of a published headshot.
func ObserveUploadedBytes(n int) {
	signatureHeadshotUploadedBytes.Observe(float64(n))
}

// StageObserver records pipeline stage timings. It satisfies
// signature.StageObserver.
type StageObserver struct{}

// ObserveStage records how long a stage took.
func (StageObserver) ObserveStage(stage string, d time.Duration) {
	signatureStageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}
