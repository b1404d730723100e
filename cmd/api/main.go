// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/medtrust/predledger/internal/api"
	"github.com/medtrust/predledger/internal/auth"
	"github.com/medtrust/predledger/internal/config"
	"github.com/medtrust/predledger/internal/health"
	"github.com/medtrust/predledger/internal/idempotency"
	"github.com/medtrust/predledger/internal/index"
	"github.com/medtrust/predledger/internal/ledger"
	"github.com/medtrust/predledger/internal/middleware"
	"github.com/medtrust/predledger/internal/predictor"
	"github.com/medtrust/predledger/internal/reconciler"
	"github.com/medtrust/predledger/internal/record"
	"github.com/medtrust/predledger/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	if *help {
		fmt.Println("Prediction Ledger API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if cfg == nil {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}

	summaryAttrs := make([]any, 0, 16)
	for key, val := range cfg.LogSummary() {
		summaryAttrs = append(summaryAttrs, slog.String(key, val))
	}
	logger.Info("configuration loaded", summaryAttrs...)

	// Tracing (no-op provider when disabled)
	tracingProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "predledger-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingProvider.Shutdown(ctx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	// Database
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		// Startup races the database in container environments; readiness
		// probes will report the real state.
		logger.Warn("database not reachable at startup", "error", err)
	}
	cancelPing()

	// Redis is optional; rate limiting falls back to in-memory without it.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	// Ledger gateway with the configured signing identity
	keypair, err := ledger.KeypairFromSeedHex(cfg.LedgerSigningSeed)
	if err != nil {
		logger.Error("invalid ledger signing seed", "error", err)
		os.Exit(1)
	}
	ledgerClient := ledger.NewClient(cfg.LedgerURL, keypair, cfg.LedgerTimeout, logger)
	logger.Info("ledger signing key loaded", "public_key", keypair.PublicKeyHex())

	modelClient := predictor.NewClient(cfg.ModelURL, cfg.ModelTimeout, logger)
	idx := index.NewPostgresIndex(db, logger)

	// Metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}
	recMetrics := reconciler.NewMetrics()
	if err := recMetrics.Register(registry); err != nil {
		logger.Error("failed to register reconciler metrics", "error", err)
		os.Exit(1)
	}

	// Reconciliation worker repairs index entries for records the ledger
	// accepted but the index missed.
	worker := reconciler.NewWorker(ledgerClient, idx, reconciler.DefaultRetryInterval, recMetrics, logger)
	svc := record.NewService(ledgerClient, idx, worker, logger)

	// Authentication
	var jwtService *auth.JWTService
	if cfg.JWTPreviousSecret != "" {
		jwtService = auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	} else {
		jwtService = auth.NewJWTService(cfg.JWTSecret)
	}

	// Rate limit store
	var rateStore middleware.RateLimitStore
	if redisClient != nil {
		rateStore = middleware.NewRedisRateLimitStore(redisClient)
	} else {
		rateStore = middleware.NewInMemoryRateLimitStore()
	}

	idemRepo := idempotency.NewPostgresRepository(db)
	idempotentRoutes := map[string]bool{
		"/records":     true,
		"/predictions": true,
	}

	// Authenticated API surface
	apiMux := http.NewServeMux()
	api.NewRecordHandlers(svc, logger).Register(apiMux)
	api.NewPredictionHandlers(modelClient, svc, logger).Register(apiMux)

	protected := middleware.RequireAuth(jwtService)(
		middleware.IdempotencyMiddleware(idemRepo, idempotentRoutes)(apiMux))
	protected = middleware.RateLimiter(rateStore, middleware.DefaultGlobalLimit(), middleware.IdentityKeyFunc(), httpMetrics)(protected)

	// Probes and metrics bypass authentication
	healthConfig := api.HealthHandlersConfig{
		DBChecker:     health.NewDBChecker(db),
		LedgerChecker: health.NewLedgerChecker(ledgerClient),
	}
	if redisClient != nil {
		healthConfig.RedisChecker = health.NewRedisChecker(redisClient)
	}

	mux := http.NewServeMux()
	api.NewHealthHandlers(healthConfig).Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", protected)

	handler := middleware.Tracing("predledger-api")(mux)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)
	if len(cfg.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowCredentials: true,
		})(handler)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	go func() {
		if err := worker.Run(workerCtx); err != nil && err != context.Canceled {
			logger.Error("reconciler worker stopped", "error", err)
		}
	}()

	if cfg.LedgerStreamURL != "" {
		streamClient, err := reconciler.NewClient(
			reconciler.DefaultConfig(cfg.LedgerStreamURL), worker.HandleFrame, logger)
		if err != nil {
			logger.Error("invalid commit stream configuration", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := streamClient.Run(workerCtx); err != nil && err != context.Canceled {
				logger.Error("commit stream client stopped", "error", err)
			}
		}()
	} else {
		logger.Info("commit stream disabled, relying on periodic retry sweeps")
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
