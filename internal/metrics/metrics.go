// Package metrics exposes the daemon's Prometheus counters and gauges,
// modeled on the teacher's metrics.go but scaled to what a config daemon
// reports (spec §2 ADD, §6 ADD "debug HTTP surface").
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the daemon registers. Unlike the
// teacher's package-level vars + init(), this is constructed fresh per
// daemon instance — spec §9 "Global daemon state" asks tests to inject a
// fresh state rather than rely on a process-wide singleton, and Prometheus's
// default registry would panic on double-registration across tests.
type Metrics struct {
	registry *prometheus.Registry

	ClientsActive     prometheus.Gauge
	ClientsTotal      prometheus.Counter
	ClientsEvicted    *prometheus.CounterVec
	RequestsByStatus  *prometheus.CounterVec
	Notifications     prometheus.Counter
	BackendLoadErrors *prometheus.CounterVec
}

// New builds and registers a fresh metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ClientsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buxton_clients_active",
			Help: "Current number of connected clients.",
		}),
		ClientsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buxton_clients_total",
			Help: "Total number of clients accepted since start.",
		}),
		ClientsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buxton_clients_evicted_total",
			Help: "Total number of clients evicted, by reason.",
		}, []string{"reason"}),
		RequestsByStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buxton_requests_total",
			Help: "Total number of requests served, by message type and status.",
		}, []string{"msg_type", "status"}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buxton_notifications_delivered_total",
			Help: "Total number of CHANGED frames delivered to subscribers.",
		}),
		BackendLoadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buxton_backend_load_errors_total",
			Help: "Total number of backend open/load failures, by layer.",
		}, []string{"layer"}),
	}

	reg.MustRegister(
		m.ClientsActive,
		m.ClientsTotal,
		m.ClientsEvicted,
		m.RequestsByStatus,
		m.Notifications,
		m.BackendLoadErrors,
	)
	return m
}

// IncBackendLoadError records one backend open/load failure for layer,
// implementing resolver.BackendErrorRecorder.
func (m *Metrics) IncBackendLoadError(layer string) {
	m.BackendLoadErrors.WithLabelValues(layer).Inc()
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
