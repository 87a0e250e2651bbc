package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aimerfeng/BioLink/internal/account"
	"github.com/aimerfeng/BioLink/internal/analytics"
	"github.com/aimerfeng/BioLink/internal/apikey"
	"github.com/aimerfeng/BioLink/internal/auth"
	"github.com/aimerfeng/BioLink/internal/cache"
	"github.com/aimerfeng/BioLink/internal/config"
	"github.com/aimerfeng/BioLink/internal/database"
	"github.com/aimerfeng/BioLink/internal/logging"
	"github.com/aimerfeng/BioLink/internal/middleware"
	"github.com/aimerfeng/BioLink/internal/monitoring"
	"github.com/aimerfeng/BioLink/internal/server"
	"github.com/aimerfeng/BioLink/internal/tier"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.Setup(&cfg.Logging, cfg.Server.Env)

	log.Info().
		Str("env", cfg.Server.Env).
		Str("name", cfg.Server.Name).
		Str("db_adapter", cfg.Database.Adapter).
		Msg("Starting BioLink API server")

	// Initialize Prometheus metrics
	monitoring.Init()
	log.Info().Msg("Prometheus metrics initialized")

	if cfg.JWT.Secret == "" {
		log.Warn().Msg("JWT_SECRET is empty, dashboard routes will reject every token")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	tiers := tier.DefaultTable()
	if cfg.Analytics.TierTablePath != "" {
		if tiers, err = tier.LoadTable(cfg.Analytics.TierTablePath); err != nil {
			log.Fatal().Err(err).Str("path", cfg.Analytics.TierTablePath).Msg("Failed to load tier table")
		}
		log.Info().Str("path", cfg.Analytics.TierTablePath).Msg("Tier table loaded")
	}

	var (
		keyStore     apikey.Store
		eventStore   analytics.Store
		accounts     account.Resolver
		healthChecks []server.HealthCheck
	)

	switch cfg.Database.Adapter {
	case "memory":
		log.Warn().Msg("Using in-memory storage, all data is lost on exit")
		keyStore = apikey.NewMemoryStore()
		eventStore = analytics.NewMemoryStore()
		accounts = account.NewMemoryResolver(tier.Free)
	default:
		if cfg.Database.AutoMigrate {
			if err := database.RunMigrations(cfg.Database.URL); err != nil {
				log.Fatal().Err(err).Msg("Failed to run database migrations")
			}
		}
		if version, dirty, err := database.MigrationVersion(cfg.Database.URL); err != nil {
			log.Warn().Err(err).Msg("Could not read schema version")
		} else if dirty {
			log.Warn().Uint("version", version).Msg("Database schema is dirty, run the migrate tool")
		}

		db, err := database.New(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		go db.ReportPoolStats(ctx, 15*time.Second)

		keyStore = apikey.NewPostgresStore(db.Pool)
		eventStore = analytics.NewPostgresStore(db.Pool)
		accounts = account.NewPostgresResolver(db.Pool)
		healthChecks = append(healthChecks, server.HealthCheck{Name: "database", Check: db.Health})
	}

	keyOpts := []apikey.Option{}
	var (
		breakers *cache.BreakerManager
		deduper  analytics.VisitorDeduper
	)

	if cfg.Redis.URL != "" {
		redisClient, err := cache.NewRedisFromURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure Redis")
		}
		defer redisClient.Close()

		breakers = cache.NewBreakerManager(nil)
		deduper = analytics.NewRedisVisitorDeduper(redisClient, breakers)
		if cfg.APIKey.CounterBackend == "redis" {
			keyOpts = append(keyOpts, apikey.WithCounter(
				apikey.NewRedisCounter(redisClient, breakers, apikey.NewLogCounter(keyStore)),
			))
		}
		healthChecks = append(healthChecks, server.HealthCheck{Name: "redis", Check: redisClient.Health})
		log.Info().Str("counter", cfg.APIKey.CounterBackend).Msg("Redis enabled")
	} else {
		deduper = analytics.NewMemoryVisitorDeduper()
	}

	keys := apikey.NewService(
		keyStore,
		tiers,
		apikey.NewArgon2Hasher(cfg.APIKey.HashMemoryKiB, cfg.APIKey.HashIterations, cfg.APIKey.HashParallelism),
		apikey.Config{
			Format: apikey.KeyFormat{
				TokenPrefix:  cfg.APIKey.TokenPrefix,
				PrefixLength: cfg.APIKey.PrefixLength,
			},
			RateLimitWindow: time.Duration(cfg.APIKey.RateLimitWindow) * time.Second,
		},
		keyOpts...,
	)

	analyticsSvc := analytics.NewService(eventStore, analytics.NewGate(tiers), analytics.ServiceConfig{
		ComparisonDays: cfg.Analytics.ComparisonDays,
		MaxWindowDays:  cfg.Analytics.MaxWindowDays,
	})

	// Start metrics server if enabled
	if cfg.Monitoring.PrometheusEnabled && cfg.Monitoring.PrometheusPort != 0 {
		go startMetricsServer(cfg.Monitoring.PrometheusPort)
	}

	// Create and start server
	srv := server.NewAPIServer(cfg, server.Services{
		Keys:      keys,
		Analytics: analyticsSvc,
		Tracker:   analytics.NewTracker(eventStore, deduper),
		Accounts:  accounts,
		Tokens:    auth.NewService(&cfg.JWT),
		Throttle:  middleware.NewFailureThrottle(cfg.APIKey.FailuresPerMinute),
		Breakers:  breakers,
		Health:    healthChecks,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("url", cfg.Server.URL).
			Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().
		Str("signal", sig.String()).
		Msg("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	stop()

	log.Info().Msg("Server exited gracefully")
}

func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().
		Int("port", port).
		Msg("Prometheus metrics server listening")

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server error")
	}
}
