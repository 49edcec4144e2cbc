package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	connections prometheus.Gauge
	events      *prometheus.CounterVec
	dropped     prometheus.Counter
}

// NewMetrics регистрирует метрики шлюза в reg. online возвращает число
// пользователей в реестре присутствия.
func NewMetrics(reg prometheus.Registerer, online func() int) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open socket connections.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "gateway",
			Name:      "events_total",
			Help:      "Client events handled, by event type and result.",
		}, []string{"event", "result"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "gateway",
			Name:      "dropped_deliveries_total",
			Help:      "Events not delivered because the receiver queue was full.",
		}),
	}

	onlineUsers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "chat",
		Subsystem: "presence",
		Name:      "online_users",
		Help:      "Users with a registered connection.",
	}, func() float64 { return float64(online()) })

	reg.MustRegister(m.connections, m.events, m.dropped, onlineUsers)
	return m
}

func (m *Metrics) event(eventType, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}
