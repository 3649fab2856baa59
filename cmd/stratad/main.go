package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strata-io/strata/internal/config"
	"github.com/strata-io/strata/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("stratad version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "serve":
		runServe(os.Args[2:])
	case "admin":
		runAdmin(os.Args[2:])
	case "version":
		fmt.Printf("stratad version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: stratad <command> [options]

Commands:
  serve       Open the storage engine and run its checkpoint and trim workers
  admin       Administrative commands (status, checkpoints, checkpoint, trim)
  version     Print version information

Run 'stratad <command> --help' for more information on a command.`)
}

// loadConfig reads path, or the default locations when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dir := fs.String("dir", "", "Override the engine data directory")
	healthAddr := fs.String("health-addr", "", "Override health endpoint address (e.g., :9091)")
	metricsAddr := fs.String("metrics-addr", "", "Override metrics endpoint address (e.g., :9090)")
	logLevel := fs.String("log-level", "", "Override log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Println(`Usage: stratad serve [options]

Open the storage engine, replay its journal and run the checkpoint server and
discard coordinator until SIGINT or SIGTERM. A final checkpoint is taken on
shutdown.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *dir != "" {
		cfg.Engine.Dir = *dir
	}
	if *healthAddr != "" {
		cfg.Observability.HealthAddr = *healthAddr
	}
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.Observability.LogLevel = *logLevel
	}

	logger := newLogger(cfg)

	daemon, err := NewDaemon(DaemonOptions{
		Config:    cfg,
		Logger:    logger,
		Version:   version,
		GitCommit: gitCommit,
		BuildTime: buildTime,
	})
	if err != nil {
		logger.Errorf("failed to create daemon", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.Start(ctx); err != nil {
		logger.Errorf("failed to start daemon", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := daemon.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	logger.Info("daemon shutdown complete")
}
