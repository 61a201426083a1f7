package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/archive-qa/internal/infrastructure/resilience"
)

// ResilienceMetrics counts retries, give-ups and breaker transitions of
// collaborator calls.
type ResilienceMetrics struct {
	service string

	retriesTotal  *prometheus.CounterVec
	giveUpsTotal  *prometheus.CounterVec
	breakerOpen   *prometheus.GaugeVec
	breakerEvents *prometheus.CounterVec
}

func NewResilienceMetrics(service string, registerer prometheus.Registerer) *ResilienceMetrics {
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Total retried collaborator calls by operation.",
		},
		[]string{"service", "operation"},
	)
	giveUpsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "give_ups_total",
			Help:      "Total calls abandoned after retryable failures by operation and reason.",
		},
		[]string{"service", "operation", "reason"},
	)
	breakerOpen := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_open",
			Help:      "1 while the operation's circuit breaker is not closed.",
		},
		[]string{"service", "operation"},
	)
	breakerEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Total circuit breaker state transitions.",
		},
		[]string{"service", "operation", "to"},
	)

	registerer.MustRegister(retriesTotal, giveUpsTotal, breakerOpen, breakerEvents)

	return &ResilienceMetrics{
		service:       service,
		retriesTotal:  retriesTotal,
		giveUpsTotal:  giveUpsTotal,
		breakerOpen:   breakerOpen,
		breakerEvents: breakerEvents,
	}
}

// Hooks returns executor hooks feeding these metrics.
func (m *ResilienceMetrics) Hooks() resilience.Hooks {
	return resilience.Hooks{
		OnRetry: func(operation string, _ int) {
			m.retriesTotal.WithLabelValues(m.service, operation).Inc()
		},
		OnGiveUp: func(operation, reason string) {
			m.giveUpsTotal.WithLabelValues(m.service, operation, reason).Inc()
		},
		OnStateChange: func(operation, _, to string) {
			m.breakerEvents.WithLabelValues(m.service, operation, to).Inc()
			open := 0.0
			if to != "closed" {
				open = 1
			}
			m.breakerOpen.WithLabelValues(m.service, operation).Set(open)
		},
	}
}
