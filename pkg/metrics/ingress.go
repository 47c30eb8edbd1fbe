package metrics

import "github.com/prometheus/client_golang/prometheus"

// IngressMetrics counts device submissions by kind and outcome.
type IngressMetrics struct {
	events *prometheus.CounterVec
}

const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

func NewIngressMetrics(reg prometheus.Registerer) *IngressMetrics {
	if reg == nil {
		return &IngressMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingress",
		Name:      "events_total",
		Help:      "Device submissions received, by event kind and outcome.",
	}, []string{"event", "outcome"})
	reg.MustRegister(events)
	return &IngressMetrics{events: events}
}

func (m *IngressMetrics) Observe(kind, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}
