package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons used as the "reason" label.
const (
	reasonDecode     = "decode"
	reasonValidation = "validation"
	reasonSequence   = "sequence"
	reasonStorage    = "storage"
)

// metrics are registered on a per-server registry so several servers (tests)
// can live in one process.
type metrics struct {
	registry   *prometheus.Registry
	received   *prometheus.CounterVec
	stored     prometheus.Counter
	duplicates prometheus.Counter
	rejected   *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "events_received_total",
			Help:      "Lineage events received, by endpoint.",
		}, []string{"endpoint"}),
		stored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "events_stored_total",
			Help:      "Lineage events written to the journal.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "events_duplicate_total",
			Help:      "Lineage events already present in the journal.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "events_rejected_total",
			Help:      "Lineage events not stored, by reason.",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		m.received,
		m.stored,
		m.duplicates,
		m.rejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) recordStored(stored, duplicate bool) {
	switch {
	case duplicate:
		m.duplicates.Inc()
	case stored:
		m.stored.Inc()
	}
}

func (m *metrics) reject(reason string, n int) {
	m.rejected.WithLabelValues(reason).Add(float64(n))
}
