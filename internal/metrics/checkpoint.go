package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CheckpointMetrics holds metrics for the background checkpoint server.
type CheckpointMetrics struct {
	// DurationHistogram tracks checkpoint latency.
	// Labels: trigger (timer, log), status (success, failure)
	DurationHistogram *prometheus.HistogramVec

	// CheckpointsTotal counts completed and failed checkpoints.
	CheckpointsTotal *prometheus.CounterVec

	// SignalsTotal counts journal signals by whether they woke the server.
	// Labels: result (woke, ignored)
	SignalsTotal *prometheus.CounterVec

	// Running is 1 while the checkpoint server goroutine exists.
	Running prometheus.Gauge
}

// NewCheckpointMetrics creates checkpoint metrics on the default registry.
func NewCheckpointMetrics() *CheckpointMetrics {
	return NewCheckpointMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewCheckpointMetricsWithRegistry creates checkpoint metrics registered with reg.
func NewCheckpointMetricsWithRegistry(reg prometheus.Registerer) *CheckpointMetrics {
	f := promauto.With(reg)
	return &CheckpointMetrics{
		DurationHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "checkpoint",
				Name:      "duration_seconds",
				Help:      "Checkpoint duration in seconds, by trigger and status.",
				Buckets:   DefaultLatencyBuckets,
			},
			[]string{"trigger", "status"},
		),
		CheckpointsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "checkpoint",
				Name:      "total",
				Help:      "Total checkpoints taken by the checkpoint server, by trigger and status.",
			},
			[]string{"trigger", "status"},
		),
		SignalsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "checkpoint",
				Name:      "signals_total",
				Help:      "Journal size signals received, by whether they woke the server.",
			},
			[]string{"result"},
		),
		Running: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "checkpoint",
				Name:      "server_running",
				Help:      "1 if the checkpoint server is running.",
			},
		),
	}
}

// RecordCheckpoint records one checkpoint attempt.
func (m *CheckpointMetrics) RecordCheckpoint(trigger string, d time.Duration, err error) {
	status := statusOf(err)
	m.DurationHistogram.WithLabelValues(trigger, status).Observe(d.Seconds())
	m.CheckpointsTotal.WithLabelValues(trigger, status).Inc()
}

func (m *CheckpointMetrics) RecordSignal(woke bool) {
	result := "ignored"
	if woke {
		result = "woke"
	}
	m.SignalsTotal.WithLabelValues(result).Inc()
}

func (m *CheckpointMetrics) SetRunning(running bool) {
	if running {
		m.Running.Set(1)
		return
	}
	m.Running.Set(0)
}
