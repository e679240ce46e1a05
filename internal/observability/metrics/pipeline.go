package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/notegen/internal/core/domain"
)

// PipelineMetrics implements ports.PipelineObserver.
type PipelineMetrics struct {
	stageDuration      *prometheus.HistogramVec
	statusTransitions  *prometheus.CounterVec
	extractionFailures *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
}

func NewPipelineMetrics(service string, reg prometheus.Registerer) *PipelineMetrics {
	constLabels := prometheus.Labels{"service": service}

	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "stage_duration_seconds",
			Help:        "Pipeline stage duration in seconds by stage and outcome.",
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
			ConstLabels: constLabels,
		},
		[]string{"stage", "outcome"},
	)
	statusTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "status_transitions_total",
			Help:        "Note status transitions.",
			ConstLabels: constLabels,
		},
		[]string{"from", "to"},
	)
	extractionFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "extraction_failures_total",
			Help:        "Failed best-effort extraction runs by extractor.",
			ConstLabels: constLabels,
		},
		[]string{"extractor"},
	)

	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "dependency",
			Name:        "breaker_state",
			Help:        "Circuit breaker state by operation: 0 closed, 1 half-open, 2 open.",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	reg.MustRegister(stageDuration, statusTransitions, extractionFailures, breakerState)

	return &PipelineMetrics{
		stageDuration:      stageDuration,
		statusTransitions:  statusTransitions,
		extractionFailures: extractionFailures,
		breakerState:       breakerState,
	}
}

func (m *PipelineMetrics) StageFinished(stage string, outcome string, elapsed time.Duration) {
	m.stageDuration.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) StatusChanged(from, to domain.NoteStatus) {
	m.statusTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *PipelineMetrics) ExtractionFailed(extractor string) {
	m.extractionFailures.WithLabelValues(extractor).Inc()
}

// BreakerStateChanged matches resilience.StateListener.
func (m *PipelineMetrics) BreakerStateChanged(operation, _, to string) {
	value := 0.0
	switch to {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(operation).Set(value)
}
