package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vantagestack/vantage-intel/internal/alerting"
	"github.com/vantagestack/vantage-intel/internal/anomaly"
	"github.com/vantagestack/vantage-intel/internal/cache"
	"github.com/vantagestack/vantage-intel/internal/config"
	"github.com/vantagestack/vantage-intel/internal/engine"
	"github.com/vantagestack/vantage-intel/internal/metrics"
	"github.com/vantagestack/vantage-intel/internal/monitor"
	"github.com/vantagestack/vantage-intel/internal/notify"
	signals "github.com/vantagestack/vantage-intel/internal/signal"
	"github.com/vantagestack/vantage-intel/internal/similarity"
	"github.com/vantagestack/vantage-intel/internal/snapshot"
	"github.com/vantagestack/vantage-intel/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting intel-engine", slog.Int("monitors", len(cfg.Monitors)))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var valkeyCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			valkeyCloser = provider
		}
	}
	if valkeyCloser != nil {
		defer valkeyCloser.Close()
	}

	var index cache.SimilarityIndex
	if cfg.Similarity.Enabled {
		if cfg.Similarity.Endpoint != "" {
			index = similarity.NewWeaviateIndex(cfg.Similarity.Endpoint, cfg.Similarity.APIKey, cfg.Similarity.Timeout)
		} else {
			index = similarity.NewInMemoryIndex()
		}
	}

	results := cache.NewResultCache(cacheProvider, index, logger)
	if cfg.Orchestrator.SingleFlight {
		results = results.WithSingleFlight()
	}

	registry := engine.NewRegistry()
	signalClient := signals.NewClient(
		cfg.Signals.BaseURL,
		cfg.Signals.MetricsPath,
		cfg.Signals.FactsPath,
		cfg.Signals.Timeout,
	)
	signals.RegisterBuiltins(registry, signalClient)

	orchestrator := engine.NewOrchestrator(logger, registry, results, engine.Options{
		WorkerTimeout:       cfg.Orchestrator.WorkerTimeout,
		WorkerTimeouts:      cfg.Orchestrator.WorkerTimeouts,
		FailurePenalty:      cfg.Orchestrator.FailurePenalty,
		ConfidenceFloor:     cfg.Orchestrator.ConfidenceFloor,
		ResultTTL:           cfg.Orchestrator.ResultTTL,
		SimilarityThreshold: cfg.Similarity.Threshold,
	})

	snapshots, err := snapshot.NewStore(snapshot.StoreConfig{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
	}, logger)
	if err != nil {
		logger.Error("failed to open snapshot store", slog.Any("error", err))
		os.Exit(1)
	}
	defer snapshots.Close()

	classifier, err := snapshot.NewClassifier(cfg.Classify.Path)
	if err != nil {
		logger.Error("failed to load change-type pack", slog.Any("error", err))
		os.Exit(1)
	}

	dispatcher := notify.NewDispatcher(logger)
	dispatcher.Register(notify.NewLogChannel(logger))
	if cfg.Notify.WebhookURL != "" {
		dispatcher.Register(notify.NewWebhookChannel(cfg.Notify.WebhookURL, cfg.Notify.WebhookTimeout))
	}

	scheduler := monitor.NewScheduler(
		monitor.Config{HistoryWindow: cfg.Anomaly.Window * 2},
		logger,
		orchestrator,
		snapshots,
		snapshot.NewAggregator(classifier),
		anomaly.NewDetector(anomaly.Config{
			MinHistory:      cfg.Anomaly.MinHistory,
			PointSigma:      cfg.Anomaly.PointSigma,
			Window:          cfg.Anomaly.Window,
			Period:          cfg.Anomaly.Period,
			TrendSustained:  cfg.Anomaly.TrendSustained,
			VolatilityRatio: cfg.Anomaly.VolatilityRatio,
		}, logger),
		alerting.NewScorer(alerting.ScorerConfig{DailyCap: cfg.Alerting.DailyCap}, logger),
		alerting.NewStore(snapshots.DB(), logger),
		dispatcher,
		cfg.Monitors,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	scheduler.Start(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	scheduler.Wait()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("intel-engine stopped")
}
