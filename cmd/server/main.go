package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gonzalinux/voskd/internal/config"
	"github.com/gonzalinux/voskd/internal/engine"
	"github.com/gonzalinux/voskd/internal/metrics"
	"github.com/gonzalinux/voskd/internal/pool"
	"github.com/gonzalinux/voskd/internal/publish"
	"github.com/gonzalinux/voskd/internal/server"
	"github.com/gonzalinux/voskd/internal/stream"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voskd"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("models", len(cfg.Engine.Models)),
		slog.String("default_model", cfg.Engine.DefaultModel),
		slog.Float64("sample_rate", cfg.Engine.SampleRate),
		slog.Int("pool_workers", cfg.Engine.PoolWorkers),
		slog.Int("engine_log_level", cfg.Engine.LogLevel),
		slog.Bool("publisher_enabled", cfg.Publisher.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// The native library's verbosity is process-global; set it before any
	// model load.
	engine.SetLogLevel(cfg.Engine.LogLevel)

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	models, err := stream.LoadModels(cfg.Engine.Models, cfg.Engine.DefaultModel, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to load models", slog.String("error", err.Error()))
		os.Exit(1)
	}

	decodePool := pool.New(cfg.Engine.PoolWorkers)
	logger.Info("Decode worker pool started", slog.Int("workers", cfg.Engine.PoolWorkers))

	var publisher *publish.Publisher
	var sink stream.TranscriptSink
	if cfg.Publisher.Enabled {
		publisher, err = publish.NewPublisher(publish.Config{
			Endpoint:      cfg.Publisher.Endpoint,
			APIKey:        cfg.Publisher.APIKey,
			Timeout:       cfg.Publisher.GetTimeoutDuration(),
			MaxRetries:    cfg.Publisher.MaxRetries,
			MaxConcurrent: cfg.Publisher.MaxConcurrent,
		}, logger, appMetrics)
		if err != nil {
			logger.Error("Failed to create transcript publisher", slog.String("error", err.Error()))
			os.Exit(1)
		}
		sink = publisher
		logger.Info("Transcript publisher initialized",
			slog.String("endpoint", cfg.Publisher.Endpoint),
		)
	}

	manager, err := stream.NewManager(models, decodePool, logger, appMetrics, sink, stream.ManagerConfig{
		SampleRate:  cfg.Engine.SampleRate,
		IdleTimeout: cfg.Engine.GetIdleTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.Duration("idle_timeout", cfg.Engine.GetIdleTimeoutDuration()),
	)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer, err = server.NewHTTPServer(cfg, logger, manager, models, publisher, appMetrics)
		if err != nil {
			logger.Error("Failed to create HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("HTTP API server started",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop accepting new requests first, then drain sessions, then release
	// the native resources they depend on.
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	manager.Stop()

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("Error closing transcript publisher", slog.String("error", err.Error()))
		}
	}

	decodePool.Close()
	models.Close()

	logger.Info("Service stopped")
}

// initLogger creates the structured logger from the logging configuration.
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
