// Package metrics holds the engine's Prometheus instrumentation. The
// registry is owned by the engine and exposed through the optional debug
// HTTP listener; nothing here is required for correctness.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics carries the engine's counters, labelled by stream or
// collection where that distinction matters.
type Metrics struct {
	registry *prometheus.Registry

	StreamReads     *prometheus.CounterVec
	StreamCacheHits *prometheus.CounterVec
	RefillErrors    *prometheus.CounterVec
	Flushes         *prometheus.CounterVec
	FlushErrors     *prometheus.CounterVec
	Steps           prometheus.Counter
}

// New creates and registers the engine metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		StreamReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldio_stream_reads_total",
			Help: "Buffer refill reads performed per input stream",
		}, []string{"stream"}),
		StreamCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldio_stream_cache_hits_total",
			Help: "Steps served from the temporal buffer without I/O",
		}, []string{"stream"}),
		RefillErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldio_refill_errors_total",
			Help: "Failed buffer refills per input stream",
		}, []string{"stream"}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldio_flushes_total",
			Help: "Successful collection flushes",
		}, []string{"collection"}),
		FlushErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldio_flush_errors_total",
			Help: "Failed collection flushes",
		}, []string{"collection"}),
		Steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldio_steps_total",
			Help: "Simulation steps processed",
		}),
	}

	registry.MustRegister(
		m.StreamReads,
		m.StreamCacheHits,
		m.RefillErrors,
		m.Flushes,
		m.FlushErrors,
		m.Steps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
