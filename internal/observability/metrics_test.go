package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scrape renders one exporter pass as text.
func scrape(t *testing.T, tel *Telemetry) string {
	t.Helper()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestInitTelemetry(t *testing.T) {
	origSystem := TelemetrySystem
	origExporter := PrometheusExporter
	defer func() {
		TelemetrySystem = origSystem
		PrometheusExporter = origExporter
	}()

	tel := InitTelemetry()
	require.NotNil(t, tel)
	assert.Same(t, tel, TelemetrySystem)
	assert.NotNil(t, PrometheusExporter)
	assert.NotNil(t, tel.Registry())
}

func TestTelemetry_HTTPMeters(t *testing.T) {
	tel := InitTelemetry()

	tel.HTTPRequestsTotal.WithLabelValues("/api/render/jobs", "GET", "200").Inc()
	tel.HTTPRequestDuration.WithLabelValues("/api/render/jobs", "GET").Observe(0.042)

	body := scrape(t, tel)
	assert.Contains(t, body, "farmsight_http_requests_total")
	assert.Contains(t, body, `route="/api/render/jobs"`)
	assert.Contains(t, body, "farmsight_http_request_duration_seconds_bucket")
}

func TestTelemetry_GaugeFunc(t *testing.T) {
	tel := InitTelemetry()

	tel.GaugeFunc("jobs_history_size", "In-memory job records", nil, func() float64 {
		return 42
	})

	body := scrape(t, tel)
	assert.Contains(t, body, "farmsight_jobs_history_size 42")
}

func TestTelemetry_CounterFunc(t *testing.T) {
	tel := InitTelemetry()

	var published float64 = 7
	tel.CounterFunc("events_published_total", "Events published", prometheus.Labels{"domain": "jobs"}, func() float64 {
		return published
	})

	body := scrape(t, tel)
	assert.Contains(t, body, `farmsight_events_published_total{domain="jobs"} 7`)

	// Scrape-time sampling picks up the new value without re-registration.
	published = 9
	body = scrape(t, tel)
	assert.Contains(t, body, `farmsight_events_published_total{domain="jobs"} 9`)
}

func TestTelemetry_DuplicateRegistrationIgnored(t *testing.T) {
	tel := InitTelemetry()

	assert.NotPanics(t, func() {
		tel.GaugeFunc("cache_entries", "Entries", nil, func() float64 { return 1 })
		tel.GaugeFunc("cache_entries", "Entries", nil, func() float64 { return 2 })
	})

	// First registration wins.
	body := scrape(t, tel)
	assert.Contains(t, body, "farmsight_cache_entries 1")
	assert.Equal(t, 1, strings.Count(body, "\nfarmsight_cache_entries "))
}

func TestTelemetry_ProcessCollectors(t *testing.T) {
	tel := InitTelemetry()

	body := scrape(t, tel)
	assert.Contains(t, body, "go_goroutines")
}
