package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts ingest outcomes. Rejections are labeled by protocol step so
// operators can tell "attack detected" from "not wired up".
type Metrics struct {
	EventsAccepted prometheus.Counter
	EventsRejected *prometheus.CounterVec
	Duplicates     *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		EventsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncmesh_ingest_events_accepted_total",
			Help: "Total number of events accepted into durable storage",
		}),
		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncmesh_ingest_events_rejected_total",
			Help: "Total number of rejected forward requests by reason",
		}, []string{"reason"}),
		Duplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncmesh_ingest_duplicates_total",
			Help: "Total number of duplicate submissions by detection kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncAccepted() {
	if m != nil {
		m.EventsAccepted.Inc()
	}
}

func (m *Metrics) IncRejected(reason string) {
	if m != nil {
		m.EventsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncDuplicate(kind string) {
	if m != nil {
		m.Duplicates.WithLabelValues(kind).Inc()
	}
}
