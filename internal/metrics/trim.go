package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/strata-io/strata/internal/trim"
)

// Extent outcome label values.
const (
	OutcomeDiscarded = "discarded"
	OutcomeSkipped   = "skipped"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// TrimMetrics holds metrics for the discard coordinator.
type TrimMetrics struct {
	// EnqueuedTotal counts extents accepted into the pending buffer.
	EnqueuedTotal prometheus.Counter

	// DroppedTotal counts extents lost to a full buffer.
	// Labels: policy (drop-newest, drop-oldest)
	DroppedTotal *prometheus.CounterVec

	// BatchesTotal counts drain passes.
	BatchesTotal prometheus.Counter

	// RangesTotal counts merged ranges by outcome.
	// Labels: outcome (discarded, skipped, rejected, failed)
	RangesTotal *prometheus.CounterVec

	// DiscardedBytesTotal counts bytes handed to the device.
	DiscardedBytesTotal prometheus.Counter

	// BatchLatencyHistogram tracks the time spent per drain pass.
	BatchLatencyHistogram prometheus.Histogram

	// Pending is the number of extents waiting in the buffer.
	Pending prometheus.Gauge
}

// NewTrimMetrics creates trim metrics on the default registry.
func NewTrimMetrics() *TrimMetrics {
	return NewTrimMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewTrimMetricsWithRegistry creates trim metrics registered with reg.
func NewTrimMetricsWithRegistry(reg prometheus.Registerer) *TrimMetrics {
	f := promauto.With(reg)
	return &TrimMetrics{
		EnqueuedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trim",
			Name:      "enqueued_total",
			Help:      "Freed extents accepted for discard.",
		}),
		DroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trim",
			Name:      "dropped_total",
			Help:      "Freed extents dropped because the pending buffer was full.",
		}, []string{"policy"}),
		BatchesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trim",
			Name:      "batches_total",
			Help:      "Drain passes run by the discard coordinator.",
		}),
		RangesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trim",
			Name:      "ranges_total",
			Help:      "Merged ranges by outcome.",
		}, []string{"outcome"}),
		DiscardedBytesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trim",
			Name:      "discarded_bytes_total",
			Help:      "Bytes successfully discarded.",
		}),
		BatchLatencyHistogram: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trim",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a discard drain pass in seconds.",
			Buckets:   DefaultLatencyBuckets,
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trim",
			Name:      "pending_extents",
			Help:      "Freed extents waiting to be discarded.",
		}),
	}
}

func (m *TrimMetrics) RecordEnqueued() {
	m.EnqueuedTotal.Inc()
}

func (m *TrimMetrics) RecordDropped(policy trim.Policy) {
	m.DroppedTotal.WithLabelValues(policy.String()).Inc()
}

// RecordBatch records the outcome of one drain pass.
func (m *TrimMetrics) RecordBatch(res trim.BatchResult, d time.Duration) {
	m.BatchesTotal.Inc()
	m.BatchLatencyHistogram.Observe(d.Seconds())
	m.RangesTotal.WithLabelValues(OutcomeDiscarded).Add(float64(res.Discarded))
	m.RangesTotal.WithLabelValues(OutcomeSkipped).Add(float64(res.Skipped))
	m.RangesTotal.WithLabelValues(OutcomeRejected).Add(float64(res.Rejected))
	m.RangesTotal.WithLabelValues(OutcomeFailed).Add(float64(res.Failed))
	m.DiscardedBytesTotal.Add(float64(res.Bytes))
}

func (m *TrimMetrics) SetPending(n int) {
	m.Pending.Set(float64(n))
}
