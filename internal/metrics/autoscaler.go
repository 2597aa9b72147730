// Package metrics exposes Prometheus gauges/counters for the autoscaler's
// own operation: a dedicated prometheus.NewRegistry() with typed *Vec
// fields on a struct, built by a NewAutoscaler(namespace) constructor. The
// series here measure pool size, container status mix, scale decisions,
// and metrics query latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Autoscaler wraps the Prometheus collectors for this module's operational
// metrics. A nil *Autoscaler is safe to call methods on -- every recorder
// no-ops -- so callers do not need to guard every call site behind an
// "enabled" check.
type Autoscaler struct {
	registry *prometheus.Registry

	poolSize            *prometheus.GaugeVec
	containersByStatus  *prometheus.GaugeVec
	scaleDecisionsTotal *prometheus.CounterVec
	metricsQuerySeconds *prometheus.HistogramVec
	routeFallbackTotal  prometheus.Counter
}

// NewAutoscaler constructs the registry and registers every collector under
// namespace. Pass the result's Handler() to an HTTP mux for scraping.
func NewAutoscaler(namespace string) *Autoscaler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Autoscaler{
		registry: registry,
		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_size",
			Help:      "Current number of containers tracked per function pool.",
		}, []string{"function"}),
		containersByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "containers_by_status",
			Help:      "Number of containers per function in each derived status.",
		}, []string{"function", "status"}),
		scaleDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scale_decisions_total",
			Help:      "Total scale-up/scale-down decisions taken, by direction.",
		}, []string{"function", "direction"}),
		metricsQuerySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "metrics_query_duration_seconds",
			Help:      "Latency of metrics-backend queries issued by the metrics client.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"kind", "outcome"}),
		routeFallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_overloaded_fallback_total",
			Help:      "Total invocation routes served from an Overloaded container as last resort.",
		}),
	}

	registry.MustRegister(
		m.poolSize,
		m.containersByStatus,
		m.scaleDecisionsTotal,
		m.metricsQuerySeconds,
		m.routeFallbackTotal,
	)
	return m
}

// Handler returns the HTTP handler that serves this registry's metrics.
func (m *Autoscaler) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePoolSize records the current container count for a function.
func (m *Autoscaler) ObservePoolSize(function string, size int) {
	if m == nil {
		return
	}
	m.poolSize.WithLabelValues(function).Set(float64(size))
}

// ObserveStatusMix records, for a function, how many containers currently
// hold each status. statuses maps status string -> count.
func (m *Autoscaler) ObserveStatusMix(function string, statuses map[string]int) {
	if m == nil {
		return
	}
	for status, count := range statuses {
		m.containersByStatus.WithLabelValues(function, status).Set(float64(count))
	}
}

// RecordScaleDecision increments the scale-up/scale-down counter.
func (m *Autoscaler) RecordScaleDecision(function, direction string) {
	if m == nil {
		return
	}
	m.scaleDecisionsTotal.WithLabelValues(function, direction).Inc()
}

// RecordMetricsQuery records the latency of one metrics-backend query.
func (m *Autoscaler) RecordMetricsQuery(kind, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.metricsQuerySeconds.WithLabelValues(kind, outcome).Observe(seconds)
}

// RecordRouteFallback increments the overloaded-fallback routing counter.
func (m *Autoscaler) RecordRouteFallback() {
	if m == nil {
		return
	}
	m.routeFallbackTotal.Inc()
}
