package registry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	roleOriginator = "originator"
	roleResponder  = "responder"
)

var (
	registerOnce sync.Once

	packetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vdblink",
			Subsystem: "registry",
			Name:      "packets_total",
			Help:      "Packets accepted by a registry, by kind.",
		},
		[]string{"role", "kind"},
	)
	rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vdblink",
			Subsystem: "registry",
			Name:      "rejected_total",
			Help:      "Packets or operations dropped by a registry, by reason.",
		},
		[]string{"role", "reason"},
	)
	negotiationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vdblink",
			Subsystem: "registry",
			Name:      "negotiations_total",
			Help:      "Per-channel negotiation outcomes.",
		},
		[]string{"result"},
	)
)

// RegisterMetrics registers the registry collectors once
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(packetsTotal, rejectedTotal, negotiationsTotal)
	})
}

func recordPacket(role, kind string) {
	packetsTotal.WithLabelValues(role, kind).Inc()
}

func recordReject(role, reason string) {
	rejectedTotal.WithLabelValues(role, reason).Inc()
}

func recordNegotiation(acked bool) {
	result := "acked"
	if !acked {
		result = "failed"
	}
	negotiationsTotal.WithLabelValues(result).Inc()
}
