package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdnpulse/internal/core/services"
	httphandlers "cdnpulse/internal/handlers/http"
	"cdnpulse/internal/infrastructure/middleware"
	"cdnpulse/internal/infrastructure/mirror"
	"cdnpulse/internal/infrastructure/monitoring"
	"cdnpulse/internal/infrastructure/repositories"
	signalinfra "cdnpulse/internal/infrastructure/signal"
	"cdnpulse/pkg/circuitbreaker"
	"cdnpulse/pkg/config"
	"cdnpulse/pkg/logger"
	"cdnpulse/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to the config YAML")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.Build(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.File.Path,
		MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
		MaxBackups: cfg.Logging.File.MaxBackups,
		MaxAgeDays: cfg.Logging.File.MaxAgeDays,
		Compress:   cfg.Logging.File.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Sugar().Fatalw("monitor failed", "error", err)
	}
}

// loadConfig uses an explicit path when given, otherwise the first config
// file found in the usual locations, otherwise defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	for _, candidate := range []string{
		"configs/config.yaml",
		"/etc/cdnpulse/config.yaml",
		"config.yaml",
	} {
		if _, err := os.Stat(candidate); err == nil {
			return config.Load(candidate)
		}
	}
	return config.Load("")
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.ServiceName = cfg.Tracing.ServiceName
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
		tp = &tracing.TracerProvider{}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := monitoring.NewPrometheusCollector(registry)

	// History store and its mirror
	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	historyMirror := mirror.New(repoFactory.CreateHistoryStore(), mirror.Config{
		Key:              cfg.History.Key,
		Capacity:         cfg.History.Capacity,
		QueueSize:        cfg.Store.QueueSize,
		OperationTimeout: cfg.Store.OperationTimeout,
		Breaker: circuitbreaker.Config{
			FailureThreshold:    cfg.Store.FailureThreshold,
			SuccessThreshold:    1,
			Timeout:             cfg.Store.ResetTimeout,
			MaxRequestsHalfOpen: 1,
		},
	}, log)
	historyMirror.SetObserver(collector)

	clearCtx, clearCancel := context.WithTimeout(ctx, 2*time.Second)
	if err := historyMirror.Clear(clearCtx); err != nil {
		log.Warnw("failed to clear stored history", "key", cfg.History.Key, "error", err)
	}
	clearCancel()
	historyMirror.Start()

	// Pipeline
	streams := services.NewStreamRegistry(cfg.Simulation.Seed)
	aggregator := services.NewMetricsAggregator(cfg.History.Capacity, historyMirror, log)
	aggregator.SetObserver(collector)

	detector := services.NewAnomalyDetector(services.DetectorConfig{
		Contamination:   cfg.Detector.Contamination,
		MinSamples:      cfg.Detector.MinSamples,
		RetrainInterval: cfg.Detector.RetrainInterval,
		Trees:           cfg.Detector.Trees,
		SampleSize:      cfg.Detector.SampleSize,
		Seed:            cfg.Detector.Seed,
	}, log)
	if cfg.Detector.ModelPath != "" && detector.Load(cfg.Detector.ModelPath) {
		log.Infow("anomaly model restored", "path", cfg.Detector.ModelPath)
	}

	forecaster := services.NewTrendForecaster(cfg.Forecast.Capacity)

	pipeline := services.NewPipeline(services.PipelineConfig{
		TickInterval:      cfg.Simulation.TickInterval,
		InitialStreams:    cfg.Simulation.InitialStreams,
		AddProbability:    cfg.Simulation.AddProbability,
		RemoveProbability: cfg.Simulation.RemoveProbability,
		LatencyMean:       cfg.Simulation.LatencyMean,
		LatencyStdDev:     cfg.Simulation.LatencyStdDev,
		BufferingMean:     cfg.Simulation.BufferingMean,
		UsersMean:         cfg.Simulation.UsersMean,
		UsersStdDev:       cfg.Simulation.UsersStdDev,
		QueryLimit:        cfg.History.QueryLimit,
		ForecastWindow:    cfg.Forecast.Window,
		ModelPath:         cfg.Detector.ModelPath,
		Seed:              cfg.Simulation.Seed,
	}, streams, aggregator, detector, forecaster, log)
	pipeline.SetObserver(collector)
	if err := pipeline.Seed(); err != nil {
		return fmt.Errorf("seed streams: %w", err)
	}

	// Subscriber transport
	hub := signalinfra.NewHub(log)
	hub.SetPingInterval(cfg.Signal.PingInterval)
	hub.SetPongTimeout(cfg.Signal.PongTimeout)
	hub.SetWriteTimeout(cfg.Signal.WriteTimeout)
	hub.SetSendBuffer(cfg.Signal.SendBuffer)
	if cfg.RateLimiting.Enabled {
		hub.SetMessageRateLimit(cfg.RateLimiting.WebSocket.MessagesPerSecond, cfg.RateLimiting.WebSocket.Burst)
	}
	hub.SetMaxMessageSize(cfg.RateLimiting.WebSocket.MaxMessageSizeBytes)
	hub.SetObserver(collector)
	hub.SetHandler(pipeline)
	pipeline.SetBroadcaster(hub)

	health := monitoring.NewHealthChecker()
	health.AddStoreCheck(historyMirror, cfg.Store.OperationTimeout)
	health.AddFreshnessCheck(func() (time.Time, bool) {
		latest, ok := pipeline.Latest()
		return latest.Timestamp, ok
	}, 5*cfg.Simulation.TickInterval)

	// HTTP surface
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(),
		middleware.MetricsMiddleware(collector),
		middleware.AccessLogMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)
	httphandlers.NewMetricsHandler(pipeline, cfg.History.QueryLimit, cfg.History.CacheTTL).SetupRoutes(router)
	httphandlers.NewHealthHandler(health, hub.ClientCount).SetupRoutes(router)
	router.GET("/ws", gin.WrapF(hub.HandleWebSocket))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
	})

	apiSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      corsHandler.Handler(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsSrv *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("starting monitor API", "address", cfg.Server.Address)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if metricsSrv != nil {
		g.Go(func() error {
			log.Infow("starting metrics endpoint", "address", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return pipeline.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down monitor")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		hub.Close()
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during API server shutdown", "error", err)
			_ = apiSrv.Close()
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				log.Errorw("error during metrics server shutdown", "error", err)
			}
		}
		return nil
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := historyMirror.Close(shutdownCtx); err != nil {
		log.Warnw("history mirror did not drain", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("error shutting down tracing", "error", err)
	}

	log.Info("monitor stopped")
	return runErr
}
