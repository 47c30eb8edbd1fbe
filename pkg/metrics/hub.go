package metrics

import "github.com/prometheus/client_golang/prometheus"

// HubMetrics tracks fan-out through the event hub.
type HubMetrics struct {
	connections prometheus.Gauge
	published   *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	failed      *prometheus.CounterVec
}

func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	if reg == nil {
		return &HubMetrics{}
	}
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      name,
			Help:      help,
		}, []string{"event"})
	}
	m := &HubMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Currently registered hub connections.",
		}),
		published: counter("published_total", "Events published to the hub."),
		delivered: counter("delivered_total", "Per-connection deliveries that succeeded."),
		dropped:   counter("dropped_total", "Events published with no subscribed connection."),
		failed:    counter("failed_total", "Per-connection deliveries that failed."),
	}
	reg.MustRegister(m.connections, m.published, m.delivered, m.dropped, m.failed)
	return m
}

func (m *HubMetrics) SetConnections(n int) {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *HubMetrics) IncPublished(kind string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *HubMetrics) AddDelivered(kind string, n int) {
	if m == nil || m.delivered == nil || n <= 0 {
		return
	}
	m.delivered.WithLabelValues(normalizeLabel(kind)).Add(float64(n))
}

func (m *HubMetrics) IncDropped(kind string) {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *HubMetrics) IncFailed(kind string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(kind)).Inc()
}
