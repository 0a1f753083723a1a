package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "transsip"

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	transitions   *prometheus.CounterVec
	calls         *prometheus.CounterVec
	packets       *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	tones         *prometheus.CounterVec
	stunProbes    *prometheus.CounterVec
	activeSession prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "state_transitions_total",
			Help:      "Engine state transitions.",
		}, []string{"from", "to"}),
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "calls_total",
			Help:      "Finished call attempts by direction and outcome.",
		}, []string{"direction", "outcome"}),
		packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "media",
			Name:      "packets_total",
			Help:      "Media datagrams sent and received.",
		}, []string{"direction"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "rejected_datagrams_total",
			Help:      "Datagrams answered with busy or dropped because the engine could not take them.",
		}, []string{"state"}),
		tones: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "tones_total",
			Help:      "Call progress indications played.",
		}, []string{"tone"}),
		stunProbes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stun",
			Name:      "probes_total",
			Help:      "STUN probes by result.",
		}, []string{"result"}),
		activeSession: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "session_active",
			Help:      "1 while a call is in the speaking state.",
		}),
	}
}

func direction(outbound bool) string {
	if outbound {
		return "outbound"
	}
	return "inbound"
}
