package aggregation

import (
	"github.com/prometheus/client_golang/prometheus"
)

// engineMetrics holds Prometheus metrics for the engine. A nil *engineMetrics
// records nothing.
type engineMetrics struct {
	computations *prometheus.CounterVec
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	cacheErrors  *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	degraded     prometheus.Gauge
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	if reg == nil {
		return nil
	}
	m := &engineMetrics{
		computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridpulse",
			Subsystem: "aggregation",
			Name:      "computations_total",
			Help:      "Aggregations computed (cache misses that ran to completion)",
		}, []string{"level"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridpulse",
			Subsystem: "aggregation",
			Name:      "cache_hits_total",
			Help:      "Aggregation cache hits",
		}, []string{"level"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridpulse",
			Subsystem: "aggregation",
			Name:      "cache_misses_total",
			Help:      "Aggregation cache misses",
		}, []string{"level"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridpulse",
			Subsystem: "aggregation",
			Name:      "cache_errors_total",
			Help:      "Cache operations that failed and were bypassed",
		}, []string{"op"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gridpulse",
			Subsystem: "aggregation",
			Name:      "compute_duration_seconds",
			Help:      "Time spent computing an aggregation on a cache miss",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"level"}),
		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridpulse",
			Subsystem: "aggregation",
			Name:      "cache_degraded",
			Help:      "1 while the cache is unreachable and results are computed uncached",
		}),
	}
	reg.MustRegister(m.computations, m.cacheHits, m.cacheMisses, m.cacheErrors, m.duration, m.degraded)
	return m
}

func (m *engineMetrics) hit(level string) {
	if m != nil {
		m.cacheHits.WithLabelValues(level).Inc()
	}
}

func (m *engineMetrics) miss(level string) {
	if m != nil {
		m.cacheMisses.WithLabelValues(level).Inc()
	}
}

func (m *engineMetrics) cacheError(op string) {
	if m != nil {
		m.cacheErrors.WithLabelValues(op).Inc()
	}
}

func (m *engineMetrics) computed(level string, seconds float64) {
	if m != nil {
		m.computations.WithLabelValues(level).Inc()
		m.duration.WithLabelValues(level).Observe(seconds)
	}
}

func (m *engineMetrics) setDegraded(on bool) {
	if m == nil {
		return
	}
	if on {
		m.degraded.Set(1)
	} else {
		m.degraded.Set(0)
	}
}
