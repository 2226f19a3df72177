package dispatch

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metrics are the dispatcher's self metrics.
type Metrics struct {
	calls     *prometheus.CounterVec
	failures  *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	submitted *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	units     *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer, logger *zap.Logger) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metricd",
			Subsystem: "dispatch",
			Name:      "calls_total",
			Help:      "Unit invocations.",
		}, []string{"kind", "unit"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metricd",
			Subsystem: "dispatch",
			Name:      "failures_total",
			Help:      "Unit invocations that returned an error or panicked.",
		}, []string{"kind", "unit"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metricd",
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Submissions dropped because a unit queue was full.",
		}, []string{"kind", "unit"}),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metricd",
			Subsystem: "dispatch",
			Name:      "submitted_total",
			Help:      "Families and notifications accepted by the pipeline.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "metricd",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Unit invocation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"kind"}),
		units: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "metricd",
			Subsystem: "dispatch",
			Name:      "units",
			Help:      "Registered units.",
		}, []string{"kind"}),
	}
	if reg == nil {
		return m
	}
	for _, c := range []prometheus.Collector{m.calls, m.failures, m.dropped, m.submitted, m.duration, m.units} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				logger.Warn("dispatch metric not registered", zap.Error(err))
			}
		}
	}
	return m
}

func (m *Metrics) observe(kind, unit string, d time.Duration, err error) {
	m.calls.WithLabelValues(kind, unit).Inc()
	m.duration.WithLabelValues(kind).Observe(d.Seconds())
	if err != nil {
		m.failures.WithLabelValues(kind, unit).Inc()
	}
}

// forget drops per-unit series of an unregistered unit.
func (m *Metrics) forget(kind, unit string) {
	m.calls.DeleteLabelValues(kind, unit)
	m.failures.DeleteLabelValues(kind, unit)
	m.dropped.DeleteLabelValues(kind, unit)
}
