package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/strata-io/strata/internal/config"
	"github.com/strata-io/strata/internal/engine"
	"github.com/strata-io/strata/internal/logging"
	"github.com/strata-io/strata/internal/metrics"
	"github.com/strata-io/strata/internal/objectstore"
	"github.com/strata-io/strata/internal/objectstore/s3"
	"github.com/strata-io/strata/internal/server"
)

// DaemonOptions contains the configuration for creating a daemon.
type DaemonOptions struct {
	Config *config.Config
	Logger *logging.Logger
	// Registry receives the daemon's metrics. Nil uses the default
	// Prometheus registry.
	Registry *prometheus.Registry
	// Archive overrides the S3 store built from the archive config.
	Archive   objectstore.Store
	Version   string
	GitCommit string
	BuildTime string
}

// Daemon is a running storage engine with its health and metrics endpoints.
type Daemon struct {
	opts   DaemonOptions
	logger *logging.Logger

	healthServer  *server.HealthServer
	metricsServer *metrics.Server

	mu      sync.RWMutex
	engine  *engine.Engine
	started bool
}

// NewDaemon creates a new Daemon but does not start it.
func NewDaemon(opts DaemonOptions) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("daemon: config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}
	return &Daemon{
		opts:   opts,
		logger: opts.Logger,
	}, nil
}

// Start brings up the health server, the metrics server and the engine. It
// returns once the engine has recovered and its workers are running.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	cfg := d.opts.Config
	d.logger.Infof("starting daemon", map[string]any{
		"dir":       cfg.Engine.Dir,
		"inMemory":  cfg.Engine.InMemory,
		"version":   d.opts.Version,
		"gitCommit": d.opts.GitCommit,
	})

	// Health first, so liveness is reported while the journal replays.
	d.healthServer = server.NewHealthServer(cfg.Observability.HealthAddr, d.logger)
	// Workers block on signals between checkpoints and discard passes.
	d.healthServer.SetStaleAfter(0)
	d.healthServer.RegisterHandler("/debug/state", http.HandlerFunc(d.handleState))
	if err := d.healthServer.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	if d.opts.Registry != nil {
		reg = d.opts.Registry
	}
	if cfg.Observability.MetricsAddr != "" {
		if d.opts.Registry != nil {
			d.metricsServer = metrics.NewServerWithRegistry(cfg.Observability.MetricsAddr, d.opts.Registry)
		} else {
			d.metricsServer = metrics.NewServer(cfg.Observability.MetricsAddr)
		}
		d.metricsServer.SetLogger(d.logger)
		if err := d.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		d.logger.Infof("metrics server started", map[string]any{"addr": d.metricsServer.Addr()})
	}

	objMetrics := metrics.NewObjectStoreMetricsWithRegistry(reg)
	opts := []engine.Option{
		engine.WithLogger(d.logger),
		engine.WithMonitor(d.healthServer),
		engine.WithMetrics(engine.Metrics{
			Checkpoint:  metrics.NewCheckpointMetricsWithRegistry(reg),
			Trim:        metrics.NewTrimMetricsWithRegistry(reg),
			IO:          metrics.NewIOMetricsWithRegistry(reg),
			Journal:     metrics.NewJournalMetricsWithRegistry(reg),
			ObjectStore: objMetrics,
		}),
	}

	store, err := d.archiveStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		opts = append(opts, engine.WithArchive(store))
		probe := objectstore.JoinKey(objectstore.NormalizeKey(cfg.Archive.Prefix), ".readyz")
		d.healthServer.RegisterReadinessCheck(server.NewObjectStoreChecker(
			objectstore.NewInstrumentedStore(store, objMetrics), probe))
	}

	eng, err := engine.Open(ctx, cfg, opts...)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return fmt.Errorf("failed to open engine: %w", err)
	}

	d.mu.Lock()
	d.engine = eng
	d.mu.Unlock()

	checkpointRequired := !cfg.Engine.InMemory && (cfg.Checkpoint.WaitSecs > 0 ||
		(cfg.Checkpoint.LogSizeBytes > 0 && cfg.Engine.LogEnabled))
	d.healthServer.RegisterReadinessCheck(server.NewWorkerChecker("checkpoint-server", eng.CheckpointRunning, checkpointRequired))
	d.healthServer.RegisterReadinessCheck(server.NewWorkerChecker("trim-coordinator", eng.TrimRunning, cfg.Trim.Enabled))

	d.logger.Infof("daemon started", map[string]any{
		"healthAddr": d.healthServer.Addr(),
	})
	return nil
}

func (d *Daemon) archiveStore(ctx context.Context) (objectstore.Store, error) {
	if d.opts.Archive != nil {
		return d.opts.Archive, nil
	}
	return openArchiveStore(ctx, d.opts.Config.Archive)
}

// openArchiveStore returns nil when archiving is disabled.
func openArchiveStore(ctx context.Context, cfg config.ArchiveConfig) (objectstore.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	store, err := s3.New(ctx, s3.Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKey,
		SecretAccessKey: cfg.SecretKey,
		UsePathStyle:    cfg.UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive store: %w", err)
	}
	return store, nil
}

// Engine returns the running engine, or nil before Start completes.
func (d *Daemon) Engine() *engine.Engine {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.engine
}

func (d *Daemon) handleState(w http.ResponseWriter, r *http.Request) {
	eng := d.Engine()
	if eng == nil {
		http.Error(w, "engine is starting", http.StatusServiceUnavailable)
		return
	}
	eng.StateHandler().ServeHTTP(w, r)
}

// Shutdown closes the engine, which takes a final checkpoint, then the HTTP
// servers.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	eng := d.engine
	d.mu.Unlock()

	d.logger.Info("shutting down daemon")

	if d.healthServer != nil {
		d.healthServer.SetShuttingDown()
	}

	var engineErr error
	if eng != nil {
		engineErr = eng.Close()
	}

	g, _ := errgroup.WithContext(ctx)
	if d.healthServer != nil {
		g.Go(d.healthServer.Close)
	}
	if d.metricsServer != nil {
		g.Go(d.metricsServer.Close)
	}
	if err := g.Wait(); err != nil {
		d.logger.Warnf("error closing http servers", map[string]any{
			"error": err.Error(),
		})
	}

	if engineErr != nil {
		return fmt.Errorf("engine close: %w", engineErr)
	}
	d.logger.Info("daemon shutdown complete")
	return nil
}
