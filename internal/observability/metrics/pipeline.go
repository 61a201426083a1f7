package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

const namespace = "aqa"

// PipelineMetrics records per-stage timings and pipeline outcomes.
type PipelineMetrics struct {
	service string

	stageDuration *prometheus.HistogramVec
	fusionTotal   *prometheus.CounterVec
	fusedDocs     *prometheus.HistogramVec
	dedupRemoved  *prometheus.CounterVec
	outcomesTotal *prometheus.CounterVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds by stage and status.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"service", "stage", "status"},
	)
	fusionTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "fusion_strategy_total",
			Help:      "Total fusion decisions by strategy.",
		},
		[]string{"service", "strategy"},
	)
	fusedDocs := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "fused_documents",
			Help:      "Distribution of fused candidate counts.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
		},
		[]string{"service"},
	)
	dedupRemoved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "dedup_removed_documents_total",
			Help:      "Total candidates removed as near duplicates.",
		},
		[]string{"service"},
	)
	outcomesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "outcomes_total",
			Help:      "Total pipeline runs by terminal outcome.",
		},
		[]string{"service", "outcome"},
	)

	registerer.MustRegister(stageDuration, fusionTotal, fusedDocs, dedupRemoved, outcomesTotal)

	return &PipelineMetrics{
		service:       service,
		stageDuration: stageDuration,
		fusionTotal:   fusionTotal,
		fusedDocs:     fusedDocs,
		dedupRemoved:  dedupRemoved,
		outcomesTotal: outcomesTotal,
	}
}

func (m *PipelineMetrics) ObserveStage(stage domain.Stage, duration time.Duration, degraded bool) {
	status := "ok"
	if degraded {
		status = "degraded"
	}
	m.stageDuration.WithLabelValues(m.service, string(stage), status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveFusion(strategy domain.FusionStrategy, count int) {
	m.fusionTotal.WithLabelValues(m.service, string(strategy)).Inc()
	m.fusedDocs.WithLabelValues(m.service).Observe(float64(count))
}

func (m *PipelineMetrics) ObserveDedup(removed int) {
	if removed <= 0 {
		return
	}
	m.dedupRemoved.WithLabelValues(m.service).Add(float64(removed))
}

func (m *PipelineMetrics) ObserveOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.outcomesTotal.WithLabelValues(m.service, outcome).Inc()
}
