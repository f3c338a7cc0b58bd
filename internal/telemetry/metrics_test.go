package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ---------------------------------------------------------------------------
// Registration: every exported metric describes itself under the expected name.
// Describe() is used instead of Gather() because unused *Vec series are absent
// from Gather output.
// ---------------------------------------------------------------------------

func TestMetrics_AllRegistered(t *testing.T) {
	cases := []struct {
		name string
		c    prometheus.Collector
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"catalog_refresh_total", CatalogRefreshTotal},
		{"catalog_refresh_duration_seconds", CatalogRefreshDuration},
		{"catalog_tools_dropped_total", CatalogToolsDroppedTotal},
		{"catalog_cache_lookups_total", CacheLookupsTotal},
		{"catalog_age_seconds", CatalogAgeSeconds},
		{"content_provider_requests_total", ContentRequestsTotal},
		{"content_provider_request_duration_seconds", ContentRequestDuration},
		{"content_provider_breaker_state", ContentBreakerState},
		{"tool_submissions_total", SubmissionsTotal},
		{"content_webhook_deliveries_total", WebhookDeliveriesTotal},
		{"index_dangling_entries", DanglingIndexEntries},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return
				}
			}
			t.Errorf("metric %q: Describe() returned no descriptor with this fqName", tc.name)
		})
	}
}

func TestMetrics_CacheLookupsTotal_CanBeIncremented(t *testing.T) {
	before := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("stale"))
	CacheLookupsTotal.WithLabelValues("stale").Inc()
	after := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("stale"))
	if after-before != 1 {
		t.Errorf("CacheLookupsTotal delta = %v, want 1", after-before)
	}
}

func TestMetrics_SubmissionsTotal_CanBeIncremented(t *testing.T) {
	before := testutil.ToFloat64(SubmissionsTotal.WithLabelValues("created"))
	SubmissionsTotal.WithLabelValues("created").Inc()
	if got := testutil.ToFloat64(SubmissionsTotal.WithLabelValues("created")); got-before != 1 {
		t.Errorf("SubmissionsTotal delta = %v, want 1", got-before)
	}
}

// ---------------------------------------------------------------------------
// Catalog age
// ---------------------------------------------------------------------------

func TestCatalogAge(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := catalogAge(time.Time{}, now); got != 0 {
		t.Errorf("catalogAge(zero) = %v, want 0", got)
	}
	if got := catalogAge(now.Add(-90*time.Second), now); got != 90 {
		t.Errorf("catalogAge(-90s) = %v, want 90", got)
	}
}

func TestStartCatalogAgeCollector_UpdatesGauge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetched := time.Now().Add(-time.Hour)
	StartCatalogAgeCollector(ctx, 5*time.Millisecond, func() time.Time { return fetched })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(CatalogAgeSeconds) >= 3600 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("CatalogAgeSeconds = %v, want >= 3600", testutil.ToFloat64(CatalogAgeSeconds))
}
