package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/soltixdb/morgoth/internal/analytics/anomaly"
	_ "github.com/soltixdb/morgoth/internal/analytics/mgof"
	"github.com/soltixdb/morgoth/internal/config"
	"github.com/soltixdb/morgoth/internal/handlers"
	"github.com/soltixdb/morgoth/internal/logging"
	"github.com/soltixdb/morgoth/internal/metric"
	"github.com/soltixdb/morgoth/internal/queue"
	"github.com/soltixdb/morgoth/internal/reader"
	"github.com/soltixdb/morgoth/internal/router"
	"github.com/soltixdb/morgoth/internal/scheduler"
	"github.com/soltixdb/morgoth/internal/sink"
	"github.com/soltixdb/morgoth/internal/telemetry"
	"github.com/soltixdb/morgoth/internal/utils"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	logger.Info("Detector service starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime,
		"detector", cfg.Detector.EffectiveKind())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tm := telemetry.New()

	// Tracked metrics
	manager, err := metric.NewManager(cfg.Metrics.Patterns, logger)
	if err != nil {
		logger.Fatal("Invalid metric patterns", "error", err)
	}
	manager.SetTelemetry(tm)
	for _, m := range cfg.Metrics.Static {
		if _, err := manager.Add(m); err != nil {
			logger.Warn("Skipping static metric", "metric", m, "error", err)
		}
	}

	var tracker handlers.MetricTracker = manager
	if cfg.Metrics.Etcd.Enabled {
		logger.Info("Connecting to etcd", "endpoints", cfg.Etcd.Endpoints)
		registry, err := metric.NewEtcdRegistry(cfg.Etcd, cfg.Metrics.Etcd.Prefix, manager, logger)
		if err != nil {
			logger.Fatal("Failed to connect to etcd", "error", err)
		}
		defer func() { _ = registry.Close() }()

		go func() {
			if err := registry.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Metric registry stopped", "error", err)
			}
		}()
		tracker = registry
	}

	// Queue (samples in, verdicts out)
	logger.Info("Connecting to Queue", "type", cfg.Queue.Type, "url", cfg.Queue.URL)
	queueClient, err := queue.NewQueue(cfg.Queue, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Queue", "error", err)
	}
	defer func() { _ = queueClient.Close() }()

	// Samples
	store, err := reader.New(cfg.Reader, logger)
	if err != nil {
		logger.Fatal("Failed to open sample reader", "type", cfg.Reader.Type, "error", err)
	}
	defer func() { _ = store.Close() }()

	if cfg.Reader.IngestSubject != "" {
		ingestor := reader.NewIngestor(queueClient, cfg.Reader.IngestSubject, store, manager, tm, logger)
		if err := ingestor.Start(); err != nil {
			logger.Fatal("Failed to start sample ingestion", "error", err)
		}
		defer func() { _ = ingestor.Stop() }()
	}

	// Detector
	detector, err := anomaly.New(cfg.Detector, anomaly.Deps{Reader: store, Logger: logger})
	if err != nil {
		logger.Fatal("Failed to create detector", "error", err)
	}

	// Verdict output
	latest := sink.NewLatestStore()
	sinks := sink.Multi{latest}
	if cfg.Sink.Publish {
		sinks = append(sinks, sink.NewQueueSink(queueClient, cfg.Sink.Subject))
	}

	sched, err := scheduler.New(scheduler.ConfigFrom(cfg.Detector, cfg.Scheduler), detector, manager, logger,
		scheduler.WithSink(sinks),
		scheduler.WithTelemetry(tm),
	)
	if err != nil {
		logger.Fatal("Failed to create scheduler", "error", err)
	}

	go drainErrors(sched.Errors(), logger)

	events, unsubscribe := manager.Subscribe(utils.DefaultEventBuffer)
	defer unsubscribe()
	go followRemovals(ctx, events, sched, detector, latest, logger)

	if err := sched.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", "error", err)
	}

	if cfg.Auth.Enabled {
		logger.Info("API key authentication enabled", "num_keys", len(cfg.Auth.APIKeys))
	} else {
		logger.Warn("API key authentication DISABLED - all requests will be allowed")
	}

	app := router.New(logger, handlers.Deps{
		Metrics:   tracker,
		Verdicts:  latest,
		Detector:  detector,
		Scheduler: sched,
		Duration:  cfg.Detector.Duration,
	}, *cfg, tm.Handler())

	go func() {
		addr := cfg.GetServerAddress()
		logger.Info("Server listening", "address", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), utils.ShutdownTimeout)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	sched.Stop()
	cancel()

	logger.Info("Detector service exited")
}

// drainErrors logs per-task failures until the scheduler closes the channel
func drainErrors(errs <-chan error, logger *logging.Logger) {
	for err := range errs {
		var te *scheduler.TaskError
		if errors.As(err, &te) {
			logger.Debug("Evaluation error reported", "metric", te.Metric, "range", te.Range.String(), "error", te.Err)
			continue
		}
		logger.Debug("Evaluation error reported", "error", err)
	}
}

// followRemovals cancels in-flight work and drops per-metric state when a
// metric stops being tracked
func followRemovals(ctx context.Context, events <-chan metric.Event, sched *scheduler.Scheduler,
	detector anomaly.Detector, latest *sink.LatestStore, logger *logging.Logger,
) {
	forgetter, _ := detector.(anomaly.Forgetter)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != metric.EventRemoved {
				continue
			}

			if n := sched.Cancel(ev.Metric); n > 0 {
				logger.Info("Cancelled in-flight evaluations", "metric", ev.Metric, "count", n)
			}
			latest.Delete(ev.Metric)
			if forgetter != nil {
				if err := forgetter.Forget(ctx, ev.Metric); err != nil {
					logger.Warn("Failed to drop stored patterns", "metric", ev.Metric, "error", err)
				}
			}
		}
	}
}
