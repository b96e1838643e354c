package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels
const (
	OutcomeOK        = "ok"
	OutcomeNotFound  = "not_found"
	OutcomeConflict  = "conflict"
	OutcomeForbidden = "forbidden"
	OutcomeInvalid   = "invalid_input"
	OutcomeError     = "error"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	operations   *prometheus.CounterVec
	enrichments  *prometheus.CounterVec
	enqueueFails prometheus.Counter
	consumerLag  *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biokeeper",
			Name:      "operations_total",
			Help:      "Workflow operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		enrichments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biokeeper",
			Name:      "enrichments_total",
			Help:      "Sample enrichment runs by outcome.",
		}, []string{"outcome"}),
		enqueueFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "biokeeper",
			Name:      "enrichment_enqueue_failures_total",
			Help:      "Committed samples whose enrichment job could not be queued.",
		}),
		consumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "biokeeper",
			Name:      "consumer_last_batch_size",
			Help:      "Messages in the last batch read per stream.",
		}, []string{"stream"}),
	}
	reg.MustRegister(
		m.operations,
		m.enrichments,
		m.enqueueFails,
		m.consumerLag,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Operation(name, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) Enrichment(outcome string) {
	if m == nil {
		return
	}
	m.enrichments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EnqueueFailed() {
	if m == nil {
		return
	}
	m.enqueueFails.Inc()
}

func (m *Metrics) ConsumerBatch(stream string, n int) {
	if m == nil {
		return
	}
	m.consumerLag.WithLabelValues(stream).Set(float64(n))
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
