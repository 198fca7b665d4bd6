package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	liveHandles    prometheus.Gauge
	constructs     *prometheus.CounterVec
	operations     *prometheus.CounterVec
	decodeFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		liveHandles: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "streamsketch",
			Subsystem: "registry",
			Name:      "live_handles",
			Help:      "Number of sketches currently held by the registry.",
		}),
		constructs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamsketch",
			Subsystem: "registry",
			Name:      "constructed_total",
			Help:      "Total sketches constructed, by sketch type.",
		}, []string{"type"}),
		operations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamsketch",
			Subsystem: "registry",
			Name:      "operations_total",
			Help:      "Total handle operations dispatched, by operation.",
		}, []string{"operation"}),
		decodeFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "streamsketch",
			Subsystem: "registry",
			Name:      "decode_failures_total",
			Help:      "Total deserialization attempts rejected as corrupt.",
		}),
	}
}
