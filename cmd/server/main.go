package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notify-realtime/internal/auth"
	"notify-realtime/internal/broker"
	"notify-realtime/internal/config"
	"notify-realtime/internal/database"
	"notify-realtime/internal/ingest"
	"notify-realtime/internal/logging"
	"notify-realtime/internal/metrics"
	"notify-realtime/internal/router"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	slog.Info("Starting realtime server")

	if cfg.Realtime.AppKey == "" || cfg.Realtime.AppSecret == "" {
		slog.Error("REALTIME_APP_KEY and REALTIME_APP_SECRET are required")
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Redis backplane when configured, in-process otherwise
	var (
		backplane broker.Backplane
		limiter   router.Limiter
	)
	if cfg.Redis.URL != "" {
		redisClient, err := database.NewRedisClient(cfg.Redis, logger)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		backplane = broker.NewRedisBackplane(redisClient, logger)
		limiter = router.NewRedisLimiter(redisClient)
	} else {
		slog.Warn("REDIS_URL not set, running a single-instance broker")
		backplane = broker.NewLocalBackplane(0)
	}

	hub := broker.NewHub(broker.Options{
		AppKey:          cfg.Realtime.AppKey,
		AppSecret:       cfg.Realtime.AppSecret,
		ActivityTimeout: cfg.Realtime.ActivityTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Backplane:       backplane,
		Logger:          logger,
		Metrics:         m,
	})
	go hub.Run()

	r := router.NewRouter(router.Deps{
		Hub:            hub,
		AuthHandler:    auth.NewHandler(cfg.Realtime.AppKey, cfg.Realtime.AppSecret, logger, m),
		AuthMiddleware: auth.NewMiddleware(cfg.JWT.Secret),
		Limiter:        limiter,
		Gatherer:       reg,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})
	r.SetupRoutes()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	ingestDone := make(chan struct{})
	if len(cfg.Kafka.Brokers) > 0 {
		consumer := ingest.NewConsumer(ingest.NewReader(cfg.Kafka), hub, logger, m)
		go func() {
			defer close(ingestDone)
			slog.Info("Kafka consumer starting", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.GroupID)
			if err := consumer.Run(ctx); err != nil {
				slog.Error("Kafka consumer stopped", "error", err)
			}
		}()
	} else {
		close(ingestDone)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stop()
	<-ingestDone

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	hub.Stop()

	slog.Info("Server stopped")
}
