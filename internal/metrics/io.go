package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/strata-io/strata/internal/fileio"
)

// IOMetrics holds metrics for aligned file reads and writes.
type IOMetrics struct {
	// BytesTotal counts bytes transferred.
	// Labels: direction (read, write)
	BytesTotal *prometheus.CounterVec

	// SyscallsTotal counts the chunked pread/pwrite calls issued.
	SyscallsTotal *prometheus.CounterVec

	// ErrorsTotal counts failed reads and writes.
	ErrorsTotal *prometheus.CounterVec

	// AdviseTotal counts placement hints by stream and status.
	AdviseTotal *prometheus.CounterVec
}

// NewIOMetrics creates I/O metrics on the default registry.
func NewIOMetrics() *IOMetrics {
	return NewIOMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewIOMetricsWithRegistry creates I/O metrics registered with reg.
func NewIOMetricsWithRegistry(reg prometheus.Registerer) *IOMetrics {
	f := promauto.With(reg)
	return &IOMetrics{
		BytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "io",
			Name:      "bytes_total",
			Help:      "Bytes transferred by direction (read/write).",
		}, []string{"direction"}),
		SyscallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "io",
			Name:      "syscalls_total",
			Help:      "Positional read/write system calls issued.",
		}, []string{"direction"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "io",
			Name:      "errors_total",
			Help:      "Failed reads and writes by direction.",
		}, []string{"direction"}),
		AdviseTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "io",
			Name:      "placement_hints_total",
			Help:      "Write placement hints applied, by stream and status.",
		}, []string{"stream", "status"}),
	}
}

func (m *IOMetrics) RecordRead(bytes int, calls int, err error) {
	m.record(DirectionRead, bytes, calls, err)
}

func (m *IOMetrics) RecordWrite(bytes int, calls int, err error) {
	m.record(DirectionWrite, bytes, calls, err)
}

func (m *IOMetrics) record(direction string, bytes, calls int, err error) {
	if bytes > 0 {
		m.BytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
	m.SyscallsTotal.WithLabelValues(direction).Add(float64(calls))
	if err != nil {
		m.ErrorsTotal.WithLabelValues(direction).Inc()
	}
}

func (m *IOMetrics) RecordAdvise(stream fileio.Stream, err error) {
	m.AdviseTotal.WithLabelValues(strconv.Itoa(int(stream)), statusOf(err)).Inc()
}
