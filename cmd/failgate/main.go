// Package main provides the entrypoint for the FailGate proxy.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/failgate/failgate/internal/admin"
	"github.com/failgate/failgate/internal/alert"
	"github.com/failgate/failgate/internal/config"
	"github.com/failgate/failgate/internal/health"
	"github.com/failgate/failgate/internal/metrics"
	"github.com/failgate/failgate/internal/proxy"
	"github.com/failgate/failgate/internal/proxy/middleware"
	"github.com/failgate/failgate/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "failgate"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting FailGate proxy")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize OpenTelemetry
	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTelEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.OTelEnabled {
		log.Info().
			Str("otlp_endpoint", cfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	proxyMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	// Health tracking over the configured targets
	tracker, err := health.NewTracker(health.TrackerConfig{
		MaxFails:    cfg.MaxFails,
		FailTimeout: cfg.FailTimeout,
		Logger:      log,
	}, cfg.Targets)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build health tracker")
	}
	for _, target := range cfg.Targets {
		log.Info().
			Str("pool", target.Pool).
			Str("address", target.Address).
			Str("role", string(target.Role)).
			Msg("target registered")
	}

	window := metrics.NewWindow(cfg.WindowSize)

	// Alert sinks: the log sink is always on, remote sinks only when
	// configured.
	sinks := []alert.Sink{alert.NewLogSink(log)}
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookSink(alert.WebhookConfig{
			URL: cfg.SlackWebhookURL,
		}))
		log.Info().Msg("webhook alert sink enabled")
	}
	if cfg.PubSubProject != "" && cfg.PubSubTopic != "" {
		pubsubSink, err := alert.NewPubSubSink(ctx, alert.PubSubConfig{
			ProjectID: cfg.PubSubProject,
			TopicName: cfg.PubSubTopic,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub sink")
		}
		defer pubsubSink.Close() //nolint:errcheck // best-effort on shutdown
		sinks = append(sinks, pubsubSink)
		log.Info().
			Str("project", cfg.PubSubProject).
			Str("topic", cfg.PubSubTopic).
			Msg("pubsub alert sink enabled")
	}

	dispatcher := alert.NewDispatcher(alert.DispatcherConfig{
		Cooldown:           cfg.AlertCooldown,
		ErrorRateThreshold: cfg.ErrorRateThreshold,
		Maintenance:        cfg.MaintenanceMode,
		Owner:              cfg.Owner,
		Environment:        cfg.Environment,
		Sinks:              sinks,
		Logger:             log,
	})
	if cfg.MaintenanceMode {
		log.Warn().Msg("maintenance mode enabled, alerts are suppressed")
	}

	router := proxy.NewRouter(proxy.RouterConfig{
		Targets: cfg.Targets,
		Tracker: tracker,
		Forwarder: proxy.NewForwarder(proxy.ForwarderConfig{
			ConnectTimeout: cfg.ConnectTimeout,
			ReadTimeout:    cfg.ReadTimeout,
		}),
		MaxRetries:        cfg.MaxRetries,
		RetryableStatuses: cfg.RetryableStatusCodes,
		FailureMode:       cfg.FailureMode,
		OnTransition:      dispatcher.OnHealthTransition,
		Logger:            log,
	})

	proxyHandler := proxy.NewHandler(proxy.ServerConfig{
		Router:     router,
		Window:     window,
		Dispatcher: dispatcher,
		Metrics:    proxyMetrics,
		Logger:     log,
	})

	// Admin token validation (get signing key from environment)
	signingKey := cfg.AdminJWTSigningKey
	if signingKey == "" {
		signingKey = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default admin JWT signing key - not secure for production")
	}
	validator := admin.NewTokenValidator(signingKey)

	adminHandler := admin.NewRouter(admin.RouterConfig{
		Version:    Version,
		BuildTime:  BuildTime,
		Tracker:    tracker,
		Window:     window,
		Dispatcher: dispatcher,
		Validator:  validator,
		Logger:     log,
	})

	// Optional active prober alongside the passive health signals
	proberCtx, stopProber := context.WithCancel(ctx)
	defer stopProber()
	if cfg.ActiveProbe {
		prober := health.NewProber(health.ProberConfig{
			Interval:     cfg.ActiveProbeInterval,
			Timeout:      cfg.ConnectTimeout,
			OnTransition: dispatcher.OnHealthTransition,
			Logger:       log,
		}, tracker)
		go prober.Run(proberCtx)
		log.Info().
			Dur("interval", cfg.ActiveProbeInterval).
			Msg("active health prober started")
	}

	proxyServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.ListenPort),
		Handler:      proxyHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	adminServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.AdminPort),
		Handler:      adminHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start servers in goroutines
	go func() {
		log.Info().
			Str("addr", proxyServer.Addr).
			Msg("proxy listening")

		if err := proxyServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("proxy server error")
		}
	}()
	go func() {
		log.Info().
			Str("addr", adminServer.Addr).
			Msg("admin listening")

		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	stopProber()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := proxyServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("proxy server forced to shutdown")
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server forced to shutdown")
	}

	log.Info().Msg("stopped")
}
