package engine

import (
	"github.com/strata-io/strata/internal/checkpoint"
	"github.com/strata-io/strata/internal/fileio"
	"github.com/strata-io/strata/internal/journal"
	"github.com/strata-io/strata/internal/logging"
	"github.com/strata-io/strata/internal/objectstore"
	"github.com/strata-io/strata/internal/trim"
	"github.com/strata-io/strata/internal/worker"
)

// Metrics bundles the recorders of each subsystem. Nil fields disable the
// corresponding metrics.
type Metrics struct {
	Checkpoint  checkpoint.MetricsRecorder
	Trim        trim.MetricsRecorder
	IO          fileio.MetricsRecorder
	Journal     journal.MetricsRecorder
	ObjectStore objectstore.MetricsRecorder
}

type options struct {
	logger    *logging.Logger
	metrics   Metrics
	monitor   worker.Monitor
	archive   objectstore.Store
	fatal     checkpoint.FatalFunc
	discarder trim.Discarder
	mapper    fileio.BlockMapper
	advisor   fileio.Advisor
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger passed to every component.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics wires per-subsystem recorders. Nil fields are skipped.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithMonitor registers the background workers for liveness reporting.
func WithMonitor(m worker.Monitor) Option {
	return func(o *options) {
		o.monitor = m
	}
}

// WithArchive uploads every checkpoint manifest to store. The engine closes
// the store on Close.
func WithArchive(store objectstore.Store) Option {
	return func(o *options) {
		o.archive = store
	}
}

// WithFatalHandler replaces the panic issued when a background checkpoint
// fails.
func WithFatalHandler(f checkpoint.FatalFunc) Option {
	return func(o *options) {
		o.fatal = f
	}
}

// WithDiscarder overrides the discarder selected by trim.mode.
func WithDiscarder(d trim.Discarder) Option {
	return func(o *options) {
		o.discarder = d
	}
}

// WithBlockMapper overrides the split placement strategy's block mapper.
func WithBlockMapper(m fileio.BlockMapper) Option {
	return func(o *options) {
		o.mapper = m
	}
}

// WithAdvisor overrides the platform placement advisor.
func WithAdvisor(a fileio.Advisor) Option {
	return func(o *options) {
		o.advisor = a
	}
}
