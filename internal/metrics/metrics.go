// Package metrics provides Prometheus metrics for a tailnode server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "tailnode"

// Metrics holds all Prometheus metrics for one node and its server.
type Metrics struct {
	registry *prometheus.Registry

	// Node metrics
	NodeUp prometheus.Gauge

	// Connection metrics
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	AcceptErrors        prometheus.Counter
	BytesReceived       prometheus.Counter
	HandlerErrors       prometheus.Counter

	// Pool metrics
	WorkersTracked prometheus.Gauge
	WorkersReaped  *prometheus.CounterVec
	WorkerLifetime prometheus.Histogram
}

// New registers a fresh set of metrics on their own registry, along with
// the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		NodeUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "node_up",
			Help:      "1 while the node is authenticated and connected",
		}),

		ConnectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted connections",
		}),
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connections_active",
			Help:      "Number of connections currently being served",
		}),
		AcceptErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "accept_errors_total",
			Help:      "Total number of failed accepts",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "received_bytes_total",
			Help:      "Total bytes read from peers",
		}),
		HandlerErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "handler_errors_total",
			Help:      "Total number of connections that ended with a handler error",
		}),

		WorkersTracked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pool_workers_tracked",
			Help:      "Number of workers in the reaper registry",
		}),
		WorkersReaped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pool_workers_reaped_total",
			Help:      "Total reaped workers by exit reason",
		}, []string{"reason"}),
		WorkerLifetime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pool_worker_lifetime_seconds",
			Help:      "Time from worker spawn to exit",
			Buckets:   []float64{.01, .1, .5, 1, 5, 10, 30, 60, 300},
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetNodeUp updates the node gauge.
func (m *Metrics) SetNodeUp(up bool) {
	if up {
		m.NodeUp.Set(1)
		return
	}
	m.NodeUp.Set(0)
}

// RecordReap records one reaped worker.
func (m *Metrics) RecordReap(reason string, lifetimeSeconds float64) {
	m.WorkersReaped.WithLabelValues(reason).Inc()
	m.WorkerLifetime.Observe(lifetimeSeconds)
}
