package mirror

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "kagami"

// Relay and propagation outcome label values.
const (
	outcomeSent                = "sent"
	outcomeFailed              = "failed"
	outcomeSkippedEmpty        = "skipped_empty"
	outcomeApplied             = "applied"
	outcomeEndpointUnavailable = "endpoint_unavailable"
)

// Metrics tracks mirror activity.
//
// Metrics:
//   - kagami_mirror_messages_observed_total: messages seen, including ignored ones
//   - kagami_mirror_relay_attempts_total: per-target relay attempts by outcome
//   - kagami_mirror_proxy_endpoints_created_total: endpoint creations by reason
//   - kagami_mirror_propagations_total: per-copy edit/delete propagations by outcome
//   - kagami_mirror_relay_cache_entries: source messages currently tracked
//
// A nil *Metrics records nothing.
type Metrics struct {
	messagesObserved  prometheus.Counter
	relayAttempts     *prometheus.CounterVec
	endpointsCreated  *prometheus.CounterVec
	propagations      *prometheus.CounterVec
	relayCacheEntries prometheus.Gauge
}

// NewMetrics creates unregistered mirror metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		messagesObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "mirror",
			Name:      "messages_observed_total",
			Help:      "Total messages observed by the mirror.",
		}),
		relayAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "mirror",
				Name:      "relay_attempts_total",
				Help:      "Total per-target relay attempts.",
			},
			[]string{"outcome"},
		),
		endpointsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "mirror",
				Name:      "proxy_endpoints_created_total",
				Help:      "Total proxy endpoints created.",
			},
			[]string{"reason"},
		),
		propagations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "mirror",
				Name:      "propagations_total",
				Help:      "Total edit and delete propagations to mirrored copies.",
			},
			[]string{"operation", "outcome"},
		),
		relayCacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "mirror",
			Name:      "relay_cache_entries",
			Help:      "Source messages currently tracked by the relay cache.",
		}),
	}
}

// Register adds every collector to registerer.
func (m *Metrics) Register(registerer prometheus.Registerer) error {
	if m == nil || registerer == nil {
		return nil
	}

	collectors := []prometheus.Collector{
		m.messagesObserved,
		m.relayAttempts,
		m.endpointsCreated,
		m.propagations,
		m.relayCacheEntries,
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return fmt.Errorf("register mirror metrics: %w", err)
		}
	}

	return nil
}

func (m *Metrics) messageObserved() {
	if m == nil {
		return
	}
	m.messagesObserved.Inc()
}

func (m *Metrics) relayAttempt(outcome string) {
	if m == nil {
		return
	}
	m.relayAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) endpointCreated(replacedStale bool) {
	if m == nil {
		return
	}
	reason := "new"
	if replacedStale {
		reason = "stale"
	}
	m.endpointsCreated.WithLabelValues(reason).Inc()
}

func (m *Metrics) propagation(operation string, outcome string) {
	if m == nil {
		return
	}
	m.propagations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) relayCacheSize(entries int) {
	if m == nil {
		return
	}
	m.relayCacheEntries.Set(float64(entries))
}
