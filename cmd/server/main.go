// Package main provides the entry point for the Watchtower server, the
// security monitoring and alerting engine behind the analytics dashboard.
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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/watchtowerhq/watchtower/internal/alerting"
	"github.com/watchtowerhq/watchtower/internal/audit"
	"github.com/watchtowerhq/watchtower/internal/config"
	"github.com/watchtowerhq/watchtower/internal/gateway"
	"github.com/watchtowerhq/watchtower/internal/monitor"
	"github.com/watchtowerhq/watchtower/internal/observability"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// cleanupInterval is how often the retention pruner runs.
const cleanupInterval = time.Hour

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Watchtower %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Missing config file is fine for local runs; defaults apply.
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			os.Exit(1)
		}
		cfg = config.DefaultConfig()
	}

	logger, err := observability.BuildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting watchtower",
		zap.String("version", Version),
		zap.String("config", *configPath))

	var redisClient *redis.Client
	var events audit.Store
	var alertStore alerting.Store
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: os.Getenv(cfg.Redis.PasswordEnv),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		retention := time.Duration(cfg.Monitoring.Retention.AlertRetentionDays) * 24 * time.Hour
		events = audit.NewRedisStore(redisClient, retention, logger)
		alertStore = alerting.NewRedisStore(redisClient, logger)
		logger.Info("using redis stores", zap.String("addr", cfg.Redis.Addr))
	} else {
		events = audit.NewMemoryStore()
		alertStore = alerting.NewMemoryStore()
		logger.Info("using in-memory stores")
	}

	metrics := observability.NewMetrics()
	mon := monitor.New(events, alertStore, alerting.DefaultRegistry(), cfg.Monitoring, metrics, logger)

	hub := newAlertHub(logger)
	go hub.run()
	mon.SetAlertHook(hub.broadcast)

	srv := &server{monitor: mon, hub: hub, logger: logger}

	limiter := gateway.NewRateLimiter(redisClient, cfg.Gateway, srv.recordRateLimitBreach, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", handleHealth)
	r.Get("/ready", srv.handleReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", hub.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(limiter.Middleware).Post("/events", srv.handleLogEvent)

		r.Get("/metrics", srv.handleSecurityMetrics)
		r.Get("/export", srv.handleExport)
		r.Get("/threat/ip/{ip}", srv.handleIPThreat)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", srv.handleListAlerts)
			r.Get("/stats", srv.handleAlertStats)
			r.Post("/{id}/ack", srv.handleAcknowledge)
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/", srv.handleGetConfig)
			r.Patch("/", srv.handleUpdateConfig)
		})
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runCleanup(ctx, mon, logger)

	go func() {
		logger.Info("server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("server stopped")
}

// runCleanup prunes expired alerts on a fixed interval until ctx ends.
func runCleanup(ctx context.Context, mon *monitor.Monitor, logger *zap.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := mon.CleanupOldAlerts(ctx)
			if err != nil {
				logger.Warn("alert cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("pruned expired alerts", zap.Int("removed", removed))
			}
		}
	}
}
