package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notigate/internal/auth"
	"notigate/internal/breaker"
	"notigate/internal/config"
	"notigate/internal/domain/notification"
	"notigate/internal/infra/broker"
	"notigate/internal/infra/kvstore"
	"notigate/internal/infra/ratelimit"
	"notigate/internal/router"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded", "port", cfg.Server.Port, "mode", cfg.Server.Mode)

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	// Key-value store (status records, idempotency cache, rate counters)
	store := kvstore.New(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	defer store.Close()

	// Fixed-window admission control per authenticated caller
	limiter := ratelimit.NewFixedWindow(store, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window())

	// Circuit breaker guarding the publish path
	cb := breaker.New(cfg.Breaker.FailMax, cfg.Breaker.Timeout())

	// Broker publisher (connected in the background below)
	publisher := broker.NewPublisher(cfg.RabbitMQ)
	defer publisher.Close()

	// Token validator
	validator := auth.NewValidator(cfg.JWT.Secret, cfg.JWT.Algorithm)

	// Service and handler
	service := notification.NewService(
		store, store, limiter, publisher, cb,
		cfg.Status.StatusTTL(), cfg.Status.IdempotencyTTL(),
	)
	handler := notification.NewHandler(service)

	// Health aggregation: broker is healthy when connected and the circuit
	// is not open; the store when Redis answers a ping.
	health := router.NewHealth(
		func() bool { return publisher.Healthy() && cb.Healthy() },
		store.Healthy,
	)

	r := router.New(cfg, validator, handler, health)

	// Connect dependencies in the background. A failure leaves the service
	// in a degraded state reported by /health instead of refusing to boot;
	// infrastructure cold-starts must not crash-loop the gateway.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			slog.Error("redis not reachable at startup, continuing degraded", "error", err)
		} else {
			slog.Info("redis connection established", "addr", cfg.Redis.Addr())
		}

		if err := publisher.Connect(ctx); err != nil {
			slog.Error("broker not reachable at startup, continuing degraded", "error", err)
		}

		health.MarkStarted()
		slog.Info("startup complete")
	}()

	// ==========================================
	// HTTP Server with Graceful Shutdown
	// ==========================================

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// Give outstanding requests 10 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}
