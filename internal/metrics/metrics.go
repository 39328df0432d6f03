// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	fetchAttemptsTotal        *prometheus.CounterVec
	rateLimitDelaysSeconds    prometheus.Histogram
	activeWorkers             prometheus.Gauge
	lastValidID               prometheus.Gauge
	graphNodes                prometheus.Gauge
	graphEdges                prometheus.Gauge
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDurationSecond *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genealogy_fetch_attempts_total",
				Help: "Total HTTP fetch attempts, labeled by result (ok, not_found, retry, error).",
			},
			[]string{"result"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "genealogy_rate_limit_delays_seconds",
				Help:    "Histogram of politeness limiter wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "genealogy_active_workers",
				Help: "Number of workers currently processing an ID.",
			},
		)

		lastValidID = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "genealogy_last_valid_id",
				Help: "Scan cursor written by the most recent run.",
			},
		)

		graphNodes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "genealogy_graph_nodes",
				Help: "Nodes in the persisted graph.",
			},
		)

		graphEdges = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "genealogy_graph_edges",
				Help: "Edges in the persisted graph.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics gathered by g.
// A nil gatherer serves the default registry.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Push sends everything gathered by g to a Prometheus pushgateway. Batch runs
// finish before any scrape would see them, so this is how they report.
func Push(ctx context.Context, url, job string, g prometheus.Gatherer) error {
	if url == "" {
		return nil
	}
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	if err := push.New(url, job).Gatherer(g).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// ObserveFetchAttempt counts one HTTP attempt by result.
func ObserveFetchAttempt(result string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// SetGraphState publishes the post-run cursor and graph size.
func SetGraphState(cursor, nodes, edges int) {
	Init()
	lastValidID.Set(float64(cursor))
	graphNodes.Set(float64(nodes))
	graphEdges.Set(float64(edges))
}

// ObserveHTTPRequest records one request served by the API.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	httpRequestDurationSecond.WithLabelValues(method, route).Observe(duration.Seconds())
}
