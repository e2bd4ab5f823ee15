package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/radiusdt/vector-analytics/internal/storage"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestMetrics_Exposition(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.RecordQuery("overview", "ok", 20*time.Millisecond)
	m.RecordCacheLookup("overview", true)
	m.ObserveFactQuery("orders", time.Millisecond, errors.New("timeout"))
	m.ObserveReload(storage.Version{Token: "g1-abcdef12", LoadedAt: time.Unix(1700000000, 0)}, time.Second, nil)
	m.ObserveReload(storage.Version{}, time.Second, errors.New("source down"))
	m.RecordHTTP("/api/v1/analytics/overview", 200, 30*time.Millisecond)
	m.RecordRateLimitHit("/api/v1/analytics/overview", "ip")

	body := scrape(t, m)
	for _, want := range []string{
		`test_query_requests_total{operation="overview",status="ok"} 1`,
		`test_cache_lookups_total{operation="overview",result="hit"} 1`,
		`test_fact_query_errors_total{collection="orders"} 1`,
		`test_snapshot_reloads_total{status="ok"} 1`,
		`test_snapshot_reloads_total{status="error"} 1`,
		`test_snapshot_reloads_applied 1`,
		`test_snapshot_loaded_timestamp_seconds 1.7e+09`,
		`test_http_requests_total{code="200",route="/api/v1/analytics/overview"} 1`,
		`test_rate_limit_hits_total{endpoint="/api/v1/analytics/overview",scope="ip"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances on fresh registries must not collide.
	NewMetrics("a", prometheus.NewRegistry())
	NewMetrics("a", prometheus.NewRegistry())
}
