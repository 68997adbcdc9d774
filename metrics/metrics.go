// Package metrics exposes the mediator's operational counters and
// gauges (SPEC_FULL.md §4.11) on a prometheus.Registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a dedicated prometheus.Registry (not the global default
// one, so a standalone server never collides with anything else in the
// process) plus the handful of named instruments the mediator updates
// from its client-map and connection-map mutators.
type Registry struct {
	reg *prometheus.Registry

	clients           prometheus.Gauge
	connections       prometheus.Gauge
	tokensMinted      prometheus.Counter
	forwardedMessages *prometheus.CounterVec
}

// New constructs a Registry with all instruments registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mediator_clients",
			Help: "Number of currently connected clients.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mediator_connections",
			Help: "Number of currently open connections across all clients.",
		}),
		tokensMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediator_tokens_minted_total",
			Help: "Number of admission tokens minted.",
		}),
		forwardedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediator_forwarded_messages_total",
			Help: "Number of messages forwarded between partnered connections, by role.",
		}, []string{"role"}),
	}

	reg.MustRegister(r.clients, r.connections, r.tokensMinted, r.forwardedMessages)
	return r
}

// Handler returns an http.Handler exposing this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Every method below tolerates a nil Registry as a no-op, so tests and
// callers that don't care about metrics can pass nil instead of
// constructing a throwaway registry.

func (r *Registry) IncClients() {
	if r != nil {
		r.clients.Inc()
	}
}

func (r *Registry) DecClients() {
	if r != nil {
		r.clients.Dec()
	}
}

func (r *Registry) IncConnections() {
	if r != nil {
		r.connections.Inc()
	}
}

func (r *Registry) DecConnections() {
	if r != nil {
		r.connections.Dec()
	}
}

func (r *Registry) IncTokensMinted() {
	if r != nil {
		r.tokensMinted.Inc()
	}
}

func (r *Registry) IncForwarded(role string) {
	if r != nil {
		r.forwardedMessages.WithLabelValues(role).Inc()
	}
}
