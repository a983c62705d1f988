// Package metrics registers the process's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the server exports.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	BusPublishes  prometheus.Counter
	WSConnections prometheus.Gauge
	WSDropped     prometheus.Counter
	StoreRetries  prometheus.Counter
}

// New builds a registry with the standard process and Go collectors
// plus the application's own.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guildhall_http_requests_total",
			Help: "HTTP requests by method, route pattern and status class.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guildhall_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		BusPublishes: factory.NewCounter(prometheus.CounterOpts{
			Name: "guildhall_bus_publishes_total",
			Help: "Messages published to the chat bus.",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "guildhall_ws_connections",
			Help: "Open websocket connections.",
		}),
		WSDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "guildhall_ws_slow_consumers_total",
			Help: "Websocket subscribers dropped for falling behind.",
		}),
		StoreRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "guildhall_store_throttle_retries_total",
			Help: "Storage operations retried after throttling.",
		}),
	}
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
