package protocol

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	transportFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vdblink",
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Frames moved across the serial link.",
		},
		[]string{"direction"},
	)
	transportDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vdblink",
			Subsystem: "transport",
			Name:      "dropped_total",
			Help:      "Frames dropped by the transport.",
		},
		[]string{"reason"},
	)
	transportQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vdblink",
			Subsystem: "transport",
			Name:      "queue_depth",
			Help:      "Frames waiting in the outbound queue.",
		},
	)
)

// RegisterMetrics registers the transport collectors with the default
// registry. It is safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(transportFrames, transportDropped, transportQueueDepth)
	})
}

func recordFrame(direction string) {
	transportFrames.WithLabelValues(direction).Inc()
}

func recordDrop(reason string) {
	transportDropped.WithLabelValues(reason).Inc()
}
