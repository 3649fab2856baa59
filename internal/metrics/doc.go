// Package metrics provides Prometheus metrics for observability.
//
// It exposes metrics for:
//   - checkpoint latency by trigger, journal signals and server liveness
//   - discard batches, merged range outcomes and pending extents
//   - aligned I/O bytes, system calls, errors and placement hints
//   - journal append latency and compression volume
//   - checkpoint archive object store operations
//
// Every metric type has a NewXMetrics constructor for the default registry
// and a NewXMetricsWithRegistry variant for tests.
//
//	cp := metrics.NewCheckpointMetrics()
//	sched := checkpoint.New(engine, checkpoint.WithMetrics(cp))
//
//	srv := metrics.NewServer(":9090")
//	srv.Start()
package metrics
