package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/notegen/internal/core/domain"
)

const namespace = "notegen"

type WorkerMetrics struct {
	registry *prometheus.Registry

	commandTotal    *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	commandInFlight prometheus.Gauge
	queueLag        *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	commandTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "note_commands_total",
			Help:      "Total handled note commands by action and result.",
		},
		[]string{"service", "action", "result"},
	)
	commandDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "note_command_duration_seconds",
			Help:      "Note command handling duration in seconds by action and result.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"service", "action", "result"},
	)
	commandInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "note_commands_in_flight",
			Help:      "Number of note commands being handled.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between command publish and handling start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(commandTotal, commandDuration, commandInFlight, queueLag)

	return &WorkerMetrics{
		registry:        registry,
		commandTotal:    commandTotal,
		commandDuration: commandDuration,
		commandInFlight: commandInFlight,
		queueLag:        queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *WorkerMetrics) StartCommand() {
	m.commandInFlight.Inc()
}

func (m *WorkerMetrics) FinishCommand(service string, action domain.CommandAction, duration time.Duration, err error) {
	m.commandInFlight.Dec()

	result := resultLabel(err)
	m.commandTotal.WithLabelValues(service, string(action), result).Inc()
	m.commandDuration.WithLabelValues(service, string(action), result).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

// resultLabel keeps lease and version conflicts apart from real failures.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsKind(err, domain.ErrConflict):
		return "conflict"
	case domain.IsKind(err, domain.ErrInvalidState):
		return "skipped"
	default:
		return "error"
	}
}
