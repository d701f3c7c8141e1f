package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "securerag"

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Queries         *prometheus.CounterVec
	GenerationTime  prometheus.Histogram
	IndexRebuilds   *prometheus.CounterVec
	IndexedChunks   prometheus.Gauge
	MemoryBackend   *prometheus.GaugeVec
	ValidatorEvents *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the instruments on reg. A nil reg gets a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries by mode and outcome.",
		}, []string{"mode", "outcome"}),
		GenerationTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_seconds",
			Help:      "Latency of answer generation.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		IndexRebuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_rebuilds_total",
			Help:      "Index rebuilds by status.",
		}, []string{"status"}),
		IndexedChunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_chunks",
			Help:      "Chunks held by the active retriever.",
		}),
		MemoryBackend: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_backend",
			Help:      "Set to 1 for the active conversation memory backend.",
		}, []string{"backend"}),
		ValidatorEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validator_events_total",
			Help:      "Validator corrections and rejections by rule.",
		}, []string{"rule"}),
		gatherer: reg,
	}
}

// ObserveGeneration records a generation duration. Safe on a nil receiver.
func (m *Metrics) ObserveGeneration(d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationTime.Observe(d.Seconds())
}

// CountQuery increments the query counter. Safe on a nil receiver.
func (m *Metrics) CountQuery(mode, outcome string) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(mode, outcome).Inc()
}

// CountRebuild increments the rebuild counter. Safe on a nil receiver.
func (m *Metrics) CountRebuild(status string, chunks int) {
	if m == nil {
		return
	}
	m.IndexRebuilds.WithLabelValues(status).Inc()
	if status == "ok" {
		m.IndexedChunks.Set(float64(chunks))
	}
}

// SetMemoryBackend marks backend as the active one.
func (m *Metrics) SetMemoryBackend(backend string) {
	if m == nil {
		return
	}
	m.MemoryBackend.Reset()
	m.MemoryBackend.WithLabelValues(backend).Set(1)
}

// CountValidator increments the validator counter for rule.
func (m *Metrics) CountValidator(rule string) {
	if m == nil {
		return
	}
	m.ValidatorEvents.WithLabelValues(rule).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
