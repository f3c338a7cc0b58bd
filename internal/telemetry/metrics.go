// Package telemetry provides application-level observability for the MCP tool directory.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<MCPD_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not part of the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Catalog refresh outcomes, duration and age
//   - Content provider calls and circuit breaker state
//   - Submission and webhook counters
//   - Index reconciler findings
//
// HTTP metrics use c.FullPath() (route template such as /api/tools/:id) rather than
// the raw request URL so tool ids never become label values.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Catalog cache metrics.
//
// CatalogRefreshTotal counts completed refreshes by result ("success" or "error").
// CacheLookupsTotal counts reads by the state of the record that served them:
// "fresh", "stale" (served while a background refresh runs) or "empty" (no
// catalog could be produced and the empty catalog was returned).
//
// Example PromQL queries:
//   - Refresh failure ratio:  rate(catalog_refresh_total{result="error"}[1h]) / rate(catalog_refresh_total[1h])
//   - Stale serving rate:     rate(catalog_cache_lookups_total{state="stale"}[5m])
var (
	CatalogRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_refresh_total",
			Help: "Total number of catalog refreshes, by result.",
		},
		[]string{"result"},
	)

	CatalogRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_refresh_duration_seconds",
			Help:    "Duration of a full catalog fetch (index plus every tool's metadata).",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	CatalogToolsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_tools_dropped_total",
			Help: "Total number of index entries dropped because their metadata could not be fetched or validated.",
		},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_lookups_total",
			Help: "Total number of catalog cache reads, by record state.",
		},
		[]string{"state"},
	)

	CatalogAgeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_age_seconds",
			Help: "Seconds since the cached catalog was fetched; 0 when nothing is cached.",
		},
	)
)

// Content provider metrics, labelled by operation ("head", "get_file",
// "commit") and result ("ok", "not_found", "conflict", "error").
var (
	ContentRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_provider_requests_total",
			Help: "Total number of content provider calls, by provider, operation and result.",
		},
		[]string{"provider", "operation", "result"},
	)

	ContentRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "content_provider_request_duration_seconds",
			Help:    "Latency of content provider calls, by provider and operation.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)

	// ContentBreakerState is 0 closed, 1 half-open, 2 open.
	ContentBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "content_provider_breaker_state",
			Help: "Circuit breaker state of the content provider (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)
)

// SubmissionsTotal counts tool submissions by result ("created", "updated",
// "invalid", "error").
var SubmissionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tool_submissions_total",
		Help: "Total number of tool submissions, by result.",
	},
	[]string{"result"},
)

// WebhookDeliveriesTotal counts content repository webhook deliveries by event
// and outcome ("refreshed", "ignored", "rejected").
var WebhookDeliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "content_webhook_deliveries_total",
		Help: "Total number of content repository webhook deliveries, by event and outcome.",
	},
	[]string{"event", "outcome"},
)

// DanglingIndexEntries is set by the index reconciler to the number of index
// ids without a metadata file found on its last run.
var DanglingIndexEntries = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "index_dangling_entries",
		Help: "Number of index entries without a metadata file at the last reconciler run.",
	},
)

// StartCatalogAgeCollector samples fetchedAt every interval and updates the
// CatalogAgeSeconds gauge until ctx is cancelled. fetchedAt returns the zero
// time when nothing is cached.
func StartCatalogAgeCollector(ctx context.Context, interval time.Duration, fetchedAt func() time.Time) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				CatalogAgeSeconds.Set(catalogAge(fetchedAt(), time.Now()))
			}
		}
	}()
}

func catalogAge(fetchedAt, now time.Time) float64 {
	if fetchedAt.IsZero() {
		return 0
	}
	return now.Sub(fetchedAt).Seconds()
}
