// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filelinks_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filelinks_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Session pool metrics
	sessionsByHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filelinks_sessions",
			Help: "Number of backend sessions by health state",
		},
		[]string{"health"},
	)

	floodWaitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filelinks_flood_waits_total",
			Help: "Total number of flood-wait responses from the backend",
		},
		[]string{"session"},
	)

	floodWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filelinks_flood_wait_seconds",
			Help:    "Flood-wait delays requested by the backend",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	// Streaming metrics
	chunkFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filelinks_chunk_fetches_total",
			Help: "Total number of chunk reads from the backend",
		},
		[]string{"result"},
	)

	chunkFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filelinks_chunk_fetch_duration_seconds",
			Help:    "Chunk read latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	bytesStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filelinks_bytes_streamed_total",
			Help: "Total bytes written to HTTP clients",
		},
	)

	streamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filelinks_streams_total",
			Help: "Total number of stream responses by outcome",
		},
		[]string{"outcome"},
	)

	// Ingest metrics
	ingestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filelinks_ingests_total",
			Help: "Total number of ingested files",
		},
		[]string{"source", "status"},
	)

	ingestBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filelinks_ingest_bytes_total",
			Help: "Total bytes ingested",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetSessions publishes the pool's health counts.
func SetSessions(counts map[string]int) {
	for health, n := range counts {
		sessionsByHealth.WithLabelValues(health).Set(float64(n))
	}
}

func RecordFloodWait(session string, delay time.Duration) {
	floodWaitsTotal.WithLabelValues(session).Inc()
	floodWaitSeconds.Observe(delay.Seconds())
}

func RecordChunkFetch(success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	chunkFetchesTotal.WithLabelValues(result).Inc()
	chunkFetchDuration.Observe(duration.Seconds())
}

func RecordBytesStreamed(n int64) {
	bytesStreamed.Add(float64(n))
}

func RecordStream(outcome string) {
	streamsTotal.WithLabelValues(outcome).Inc()
}

func RecordIngest(source string, bytes int64, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	ingestsTotal.WithLabelValues(source, status).Inc()
	if success {
		ingestBytes.Add(float64(bytes))
	}
}
