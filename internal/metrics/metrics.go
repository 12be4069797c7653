// Package metrics defines the gateway's instrumentation interface with a
// no-op default and a Prometheus-backed implementation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics captures pipeline gateway counters.
type Metrics interface {
	IncRequest(gate, outcome string)
	IncRateLimited(backend string)
	IncFailover(backend string)
	IncEventPublished()
	IncEventDropped()
	ObserveGateLatency(gate string, seconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncRequest(string, string)          {}
func (Noop) IncRateLimited(string)              {}
func (Noop) IncFailover(string)                 {}
func (Noop) IncEventPublished()                 {}
func (Noop) IncEventDropped()                   {}
func (Noop) ObserveGateLatency(string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	failovers       *prometheus.CounterVec
	eventsPublished prometheus.Counter
	eventsDropped   prometheus.Counter
	gateLatency     *prometheus.HistogramVec
}

// NewProm creates and registers the gateway collectors under the given
// namespace.
func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Pipeline requests by gate and outcome",
		}, []string{"gate", "outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the provider rate limiter",
		}, []string{"backend"}),
		failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failovers_total",
			Help:      "Completions that fell over to the fallback backend",
		}, []string{"backend"}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Pipeline events published to the bus",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Pipeline events dropped on slow subscriber queues",
		}),
		gateLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gate_latency_seconds",
			Help:      "End-to-end gate invocation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gate"}),
	}
	p.registry.MustRegister(
		p.requests, p.rateLimited, p.failovers,
		p.eventsPublished, p.eventsDropped, p.gateLatency,
	)
	return p
}

func (p *Prom) IncRequest(gate, outcome string) { p.requests.WithLabelValues(gate, outcome).Inc() }
func (p *Prom) IncRateLimited(backend string)   { p.rateLimited.WithLabelValues(backend).Inc() }
func (p *Prom) IncFailover(backend string)      { p.failovers.WithLabelValues(backend).Inc() }
func (p *Prom) IncEventPublished()              { p.eventsPublished.Inc() }
func (p *Prom) IncEventDropped()                { p.eventsDropped.Inc() }

func (p *Prom) ObserveGateLatency(gate string, seconds float64) {
	p.gateLatency.WithLabelValues(gate).Observe(seconds)
}

// Handler serves the registry for scraping.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
