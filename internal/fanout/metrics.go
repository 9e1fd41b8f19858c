package fanout

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the fan-out server. All methods
// are nil-safe so the server can run with metrics disabled.
type Metrics struct {
	registry    *prometheus.Registry
	clients     prometheus.Gauge
	sent        *prometheus.CounterVec
	drops       *prometheus.CounterVec
	rateLimited prometheus.Counter
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trenchcord",
			Name:      "ws_clients",
			Help:      "Current connected websocket clients",
		}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trenchcord",
			Name:      "events_sent_total",
			Help:      "Number of events delivered to clients",
		}, []string{"type"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trenchcord",
			Name:      "broadcast_drops_total",
			Help:      "Number of events dropped due to slow clients",
		}, []string{"type"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trenchcord",
			Name:      "http_rate_limited_total",
			Help:      "Number of HTTP requests rejected due to rate limiting",
		}),
	}

	registry.MustRegister(m.clients, m.sent, m.drops, m.rateLimited)
	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncClients adjusts the client gauge by delta.
func (m *Metrics) IncClients(delta float64) {
	if m == nil {
		return
	}
	m.clients.Add(delta)
}

// IncSent increments the delivered counter for an event type.
func (m *Metrics) IncSent(typ string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(typ).Inc()
}

// IncDrops increments the drop counter for an event type.
func (m *Metrics) IncDrops(typ string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(typ).Inc()
}

// IncRateLimited increments the rate limit counter.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
