package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

type serviceMetrics struct {
	connections  prometheus.Gauge
	connects     prometheus.Counter
	authFailures prometheus.Counter
	disconnects  *prometheus.CounterVec
	messagesSent *prometheus.CounterVec
	broadcasts   *prometheus.CounterVec
	tickDuration prometheus.Histogram
}

func newServiceMetrics(reg prometheus.Registerer) *serviceMetrics {
	if reg == nil {
		return nil
	}
	m := &serviceMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridpulse",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Currently active connections",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridpulse",
			Subsystem: "realtime",
			Name:      "connections_total",
			Help:      "Connections that authenticated successfully",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridpulse",
			Subsystem: "realtime",
			Name:      "auth_failures_total",
			Help:      "Connections closed because authentication failed",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridpulse",
			Subsystem: "realtime",
			Name:      "disconnections_total",
			Help:      "Disconnections by reason",
		}, []string{"reason"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridpulse",
			Subsystem: "realtime",
			Name:      "messages_sent_total",
			Help:      "Frames queued for delivery by message type",
		}, []string{"type"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridpulse",
			Subsystem: "realtime",
			Name:      "broadcast_ticks_total",
			Help:      "Broadcast ticks by outcome (published, failed, skipped)",
		}, []string{"outcome"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gridpulse",
			Subsystem: "realtime",
			Name:      "broadcast_tick_duration_seconds",
			Help:      "Time spent computing and publishing one broadcast",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.connections, m.connects, m.authFailures, m.disconnects, m.messagesSent, m.broadcasts, m.tickDuration)
	return m
}

func (m *serviceMetrics) connected() {
	if m != nil {
		m.connects.Inc()
		m.connections.Inc()
	}
}

func (m *serviceMetrics) disconnected(reason string, wasActive bool) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(reason).Inc()
	if wasActive {
		m.connections.Dec()
	}
}

func (m *serviceMetrics) authFailed() {
	if m != nil {
		m.authFailures.Inc()
	}
}

func (m *serviceMetrics) sent(msgType string, n int) {
	if m != nil && n > 0 {
		m.messagesSent.WithLabelValues(msgType).Add(float64(n))
	}
}

func (m *serviceMetrics) tick(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(outcome).Inc()
	if outcome != outcomeSkipped {
		m.tickDuration.Observe(seconds)
	}
}
