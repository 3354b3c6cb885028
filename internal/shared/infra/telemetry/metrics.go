package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "catalogcdc"

// Metrics agrupa los contadores del pipeline. Si no se registra en ningún
// Registerer sigue funcionando, simplemente nadie los expone.
type Metrics struct {
	Published      *prometheus.CounterVec   // topic, criticality, outcome
	PublishLatency *prometheus.HistogramVec // topic
	BatchItems     *prometheus.CounterVec   // operation, outcome
	OutboxRelayed  *prometheus.CounterVec   // outcome
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Envelopes handed to the broker, by topic and outcome.",
		}, []string{"topic", "criticality", "outcome"}),
		PublishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Broker round-trip per envelope.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		BatchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Batch items by operation and outcome.",
		}, []string{"operation", "outcome"}),
		OutboxRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_relayed_total",
			Help:      "Outbox rows relayed to the broker.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Published, m.PublishLatency, m.BatchItems, m.OutboxRelayed)
	}
	return m
}

// NewRegistry crea un registro con los collectors de proceso y runtime.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	return registry
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
