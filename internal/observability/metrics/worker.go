package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "index_events_total",
			Help:      "Total processed index events by operation and status (success or error kind).",
		},
		[]string{"service", "op", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "index_event_duration_seconds",
			Help:      "Index event handling duration in seconds by operation and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "op", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "index_events_in_flight",
			Help:      "Number of index events being handled.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	registry.MustRegister(processTotal, processDuration, processInFlight)

	return &WorkerMetrics{
		registry:        registry,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
	}
}

// Registerer exposes the worker registry to collaborators' metrics.
func (m *WorkerMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEvent() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishEvent(service, op string, duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = domain.KindName(err)
	}
	if op == "" {
		op = "unknown"
	}

	m.processTotal.WithLabelValues(service, op, status).Inc()
	m.processDuration.WithLabelValues(service, op, status).Observe(duration.Seconds())
}
