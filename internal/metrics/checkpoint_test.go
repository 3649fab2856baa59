package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCheckpointMetrics_RecordCheckpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckpointMetricsWithRegistry(reg)

	m.RecordCheckpoint("timer", 20*time.Millisecond, nil)
	m.RecordCheckpoint("timer", 30*time.Millisecond, nil)
	m.RecordCheckpoint("log", time.Second, errors.New("EIO"))

	if v := counterValue(t, reg, "strata_checkpoint_total", map[string]string{"trigger": "timer", "status": "success"}); v != 2 {
		t.Errorf("timer successes = %v, want 2", v)
	}
	if v := counterValue(t, reg, "strata_checkpoint_total", map[string]string{"trigger": "log", "status": "failure"}); v != 1 {
		t.Errorf("log failures = %v, want 1", v)
	}
	if c := histogramCount(t, reg, "strata_checkpoint_duration_seconds", map[string]string{"trigger": "timer", "status": "success"}); c != 2 {
		t.Errorf("timer duration samples = %d, want 2", c)
	}
}

func TestCheckpointMetrics_SignalsAndRunning(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckpointMetricsWithRegistry(reg)

	m.RecordSignal(true)
	m.RecordSignal(false)
	m.RecordSignal(false)
	if v := counterValue(t, reg, "strata_checkpoint_signals_total", map[string]string{"result": "woke"}); v != 1 {
		t.Errorf("woke = %v", v)
	}
	if v := counterValue(t, reg, "strata_checkpoint_signals_total", map[string]string{"result": "ignored"}); v != 2 {
		t.Errorf("ignored = %v", v)
	}

	m.SetRunning(true)
	if v := gaugeValue(t, reg, "strata_checkpoint_server_running"); v != 1 {
		t.Errorf("running = %v, want 1", v)
	}
	m.SetRunning(false)
	if v := gaugeValue(t, reg, "strata_checkpoint_server_running"); v != 0 {
		t.Errorf("running = %v, want 0", v)
	}
}
