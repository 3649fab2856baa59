package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// JournalMetrics holds metrics for journal appends.
type JournalMetrics struct {
	AppendLatencyHistogram prometheus.Histogram

	// RecordsTotal counts appends by status.
	RecordsTotal *prometheus.CounterVec

	// RawBytesTotal and EncodedBytesTotal give the compression ratio via rate().
	RawBytesTotal     prometheus.Counter
	EncodedBytesTotal prometheus.Counter

	// WrittenBytes is the journal volume since the last checkpoint.
	WrittenBytes prometheus.Gauge
}

// NewJournalMetrics creates journal metrics on the default registry.
func NewJournalMetrics() *JournalMetrics {
	return NewJournalMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewJournalMetricsWithRegistry creates journal metrics registered with reg.
func NewJournalMetricsWithRegistry(reg prometheus.Registerer) *JournalMetrics {
	f := promauto.With(reg)
	return &JournalMetrics{
		AppendLatencyHistogram: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "append_latency_seconds",
			Help:      "Journal append latency in seconds.",
			Buckets:   DefaultLatencyBuckets,
		}),
		RecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "records_total",
			Help:      "Journal records appended, by status.",
		}, []string{"status"}),
		RawBytesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "raw_bytes_total",
			Help:      "Uncompressed payload bytes appended.",
		}),
		EncodedBytesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "encoded_bytes_total",
			Help:      "Framed record bytes written to the journal file.",
		}),
		WrittenBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "written_since_checkpoint_bytes",
			Help:      "Journal bytes written since the last checkpoint.",
		}),
	}
}

func (m *JournalMetrics) RecordAppend(raw, encoded int, d time.Duration, err error) {
	m.AppendLatencyHistogram.Observe(d.Seconds())
	m.RecordsTotal.WithLabelValues(statusOf(err)).Inc()
	if err != nil {
		return
	}
	m.RawBytesTotal.Add(float64(raw))
	m.EncodedBytesTotal.Add(float64(encoded))
}

func (m *JournalMetrics) SetWritten(n int64) {
	m.WrittenBytes.Set(float64(n))
}
