// Package observability exposes Prometheus metrics for the engine
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. It implements the
// synthesizer's pass observer.
type Metrics struct {
	passesTotal        prometheus.Counter
	passFailuresTotal  prometheus.Counter
	passDuration       prometheus.Histogram
	entitiesUpserted   prometheus.Counter
	connectionsDerived prometheus.Counter
	eventsAppended     *prometheus.CounterVec
	eventsSkipped      prometheus.Counter
}

// NewMetrics registers the engine collectors with the given registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		passesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "graphsync_synthesis_passes_total",
			Help: "Completed synthesis passes",
		}),
		passFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "graphsync_synthesis_pass_failures_total",
			Help: "Synthesis passes that failed",
		}),
		passDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "graphsync_synthesis_pass_duration_seconds",
			Help:    "Synthesis pass duration",
			Buckets: prometheus.DefBuckets,
		}),
		entitiesUpserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "graphsync_synthesis_entities_upserted_total",
			Help: "Entities upserted by synthesis passes",
		}),
		connectionsDerived: factory.NewCounter(prometheus.CounterOpts{
			Name: "graphsync_synthesis_connections_derived_total",
			Help: "Connections derived by synthesis passes",
		}),
		eventsAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "graphsync_events_appended_total",
			Help: "Events appended to the store by type",
		}, []string{"event_type"}),
		eventsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "graphsync_events_skipped_total",
			Help: "Events skipped during load because of schema failures",
		}),
	}
}

// PassCompleted records a successful synthesis pass
func (m *Metrics) PassCompleted(duration time.Duration, entitiesUpserted, connectionsDerived int) {
	m.passesTotal.Inc()
	m.passDuration.Observe(duration.Seconds())
	m.entitiesUpserted.Add(float64(entitiesUpserted))
	m.connectionsDerived.Add(float64(connectionsDerived))
}

// PassFailed records a failed synthesis pass
func (m *Metrics) PassFailed() {
	m.passFailuresTotal.Inc()
}

// EventAppended records an appended event
func (m *Metrics) EventAppended(eventType string) {
	m.eventsAppended.WithLabelValues(eventType).Inc()
}

// EventSkipped records an event skipped during load
func (m *Metrics) EventSkipped() {
	m.eventsSkipped.Inc()
}
