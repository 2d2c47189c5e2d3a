// Package metrics exposes Prometheus collectors for the newsmesh node.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmesh_resolutions_total",
			Help: "Total article resolutions, labeled by winning tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	ingestArticlesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmesh_ingest_articles_total",
			Help: "Total articles produced by ingestion, labeled by source.",
		},
		[]string{"source"},
	)

	ingestSourceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmesh_ingest_source_errors_total",
			Help: "Total per-source ingestion failures, labeled by source.",
		},
		[]string{"source"},
	)

	storeOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmesh_store_ops_total",
			Help: "Total article store operations, labeled by store, op and status.",
		},
		[]string{"store", "op", "status"},
	)

	blobOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmesh_blob_ops_total",
			Help: "Total blob store operations, labeled by op and status.",
		},
		[]string{"op", "status"},
	)

	pointersAnnouncedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsmesh_pointers_announced_total",
			Help: "Total federated pointers announced to peers.",
		},
	)

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

	activeResolutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsmesh_active_resolutions",
			Help: "Number of resolution calls currently in flight.",
		},
	)
)

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveResolution records one finished resolution call.
func ObserveResolution(tier, outcome string) {
	resolutionsTotal.WithLabelValues(tier, outcome).Inc()
}

// ObserveIngest increments ingestion counters for one source.
func ObserveIngest(source string, articles int, failed bool) {
	if articles > 0 {
		ingestArticlesTotal.WithLabelValues(source).Add(float64(articles))
	}
	if failed {
		ingestSourceErrorsTotal.WithLabelValues(source).Inc()
	}
}

// ObserveStoreOp increments the store operation counter.
func ObserveStoreOp(store, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	storeOpsTotal.WithLabelValues(store, op, status).Inc()
}

// ObserveBlobOp increments the blob operation counter.
func ObserveBlobOp(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	blobOpsTotal.WithLabelValues(op, status).Inc()
}

// ObservePointerAnnounced counts a federated pointer announcement.
func ObservePointerAnnounced() {
	pointersAnnouncedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveResolutions increments the in-flight resolution gauge.
func IncActiveResolutions() {
	activeResolutions.Inc()
}

// DecActiveResolutions decrements the in-flight resolution gauge.
func DecActiveResolutions() {
	activeResolutions.Dec()
}
