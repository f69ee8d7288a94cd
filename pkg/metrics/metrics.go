// Package metrics exposes tidemark's Prometheus metrics.
//
// # Overview
//
// All metrics are registered on the default registry at init and served by
// Handler. Labels are kept low-cardinality: stream names and tenant ids come
// from configuration, hosts from the configured endpoints.
//
// # Basic Usage
//
//	metrics.PagesFetched.WithLabelValues("customer").Inc()
//	metrics.RecordsEmitted.WithLabelValues("customer").Add(float64(len(page.Rows)))
//
//	timer := metrics.NewTimer()
//	resp, err := client.Do(req)
//	metrics.HTTPRequestDuration.WithLabelValues(host).Observe(timer.Stop().Seconds())
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequests counts outbound HTTP requests by host and status code.
	// Transport failures are recorded with status "error".
	//
	// Example:
	//	metrics.HTTPRequests.WithLabelValues("integration.visma.net", "200").Inc()
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidemark_http_requests_total",
			Help: "Total number of outbound HTTP requests",
		},
		[]string{"host", "status"},
	)

	// HTTPRequestDuration tracks outbound request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidemark_http_request_duration_seconds",
			Help:    "Outbound HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"host"},
	)

	// TokenRequests counts access token requests per ERP tenant. A steady
	// rise within one run means the token cache is not being hit.
	TokenRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidemark_token_requests_total",
			Help: "Total number of access token requests",
		},
		[]string{"tenant"},
	)

	// PagesFetched counts non-empty pages pulled from a source.
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidemark_pages_fetched_total",
			Help: "Total number of pages fetched",
		},
		[]string{"stream"},
	)

	// RecordsEmitted counts rows handed to the sink.
	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidemark_records_emitted_total",
			Help: "Total number of records emitted to the destination",
		},
		[]string{"stream"},
	)

	// StreamRuns counts finished stream runs by status (success, failure, skipped).
	StreamRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidemark_stream_runs_total",
			Help: "Total number of stream runs by outcome",
		},
		[]string{"stream", "status"},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time from creation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
