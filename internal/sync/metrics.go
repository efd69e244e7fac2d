package sync

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the engine's counters. Registration is caller-controlled so
// tests can use throwaway registries.
type Metrics struct {
	Received          *prometheus.CounterVec
	Published         *prometheus.CounterVec
	Dropped           *prometheus.CounterVec
	GuardSuppressions prometheus.Counter
	MirrorsCreated    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_messages_received_total",
			Help: "Inbound messages accepted for dispatch, by type.",
		}, []string{"type"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_messages_published_total",
			Help: "Outbound messages handed to the transport, by type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_messages_dropped_total",
			Help: "Messages dropped before any store mutation, by reason.",
		}, []string{"reason"}),
		GuardSuppressions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_guard_suppressions_total",
			Help: "Local change notifications swallowed as inbound-write echoes.",
		}),
		MirrorsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_mirrors_created_total",
			Help: "Mirror variables created from inbound updates.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Received, m.Published, m.Dropped, m.GuardSuppressions, m.MirrorsCreated)
	}
	return m
}
