package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsNamespace prefixes every farmsight meter.
const metricsNamespace = "farmsight"

// Telemetry bundles the service meters on a private registry. Component
// counters (registry, cache, broadcaster, poller) are sampled at scrape
// time via GaugeFunc/CounterFunc closures wired during serve startup;
// only the HTTP meters are incremented inline.
type Telemetry struct {
	registry *prometheus.Registry

	// HTTPRequestsTotal counts completed requests by route pattern,
	// method and status code.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration tracks request latency by route pattern and
	// method.
	HTTPRequestDuration *prometheus.HistogramVec
}

// TelemetrySystem is the process-wide telemetry instance. Nil until
// InitTelemetry runs.
var TelemetrySystem *Telemetry

// PrometheusExporter serves the metrics endpoint. Nil until
// InitTelemetry runs.
var PrometheusExporter http.Handler

// InitTelemetry builds the process-wide telemetry instance and exporter.
func InitTelemetry() *Telemetry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	t := &Telemetry{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Completed HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"route", "method"},
		),
	}
	reg.MustRegister(t.HTTPRequestsTotal, t.HTTPRequestDuration)

	TelemetrySystem = t
	PrometheusExporter = t.Handler()
	return t
}

// Handler returns an exporter for this telemetry instance.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying prometheus registry.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// GaugeFunc registers a gauge sampled at scrape time. Registering a name
// and label set twice is a no-op.
func (t *Telemetry) GaugeFunc(name, help string, labels prometheus.Labels, fn func() float64) {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, fn)
	_ = t.registry.Register(g)
}

// CounterFunc registers a monotonic counter sampled at scrape time.
// Registering a name and label set twice is a no-op.
func (t *Telemetry) CounterFunc(name, help string, labels prometheus.Labels, fn func() float64) {
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, fn)
	_ = t.registry.Register(c)
}
