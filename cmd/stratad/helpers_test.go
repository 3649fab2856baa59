package main

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/strata-io/strata/internal/config"
	"github.com/strata-io/strata/internal/logging"
	"github.com/strata-io/strata/internal/objectstore"
)

// testConfig returns a config rooted in a temporary directory with every
// listener on a random port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Engine.Dir = t.TempDir()
	cfg.Trim.Mode = "none"
	cfg.Observability.HealthAddr = "127.0.0.1:0"
	cfg.Observability.MetricsAddr = "127.0.0.1:0"
	return cfg
}

// startTestDaemon starts a daemon with its own metrics registry and a mock
// archive. The daemon is shut down when the test ends.
func startTestDaemon(t *testing.T, cfg *config.Config) (*Daemon, *objectstore.MockStore) {
	t.Helper()

	logger := logging.DefaultLogger()
	logger.SetLevel(logging.LevelError)

	store := objectstore.NewMockStore()
	d, err := NewDaemon(DaemonOptions{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Archive:  store,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return d, store
}
