package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/brightboard/safety-gate/internal/config"
	"github.com/brightboard/safety-gate/internal/gate"
	"github.com/brightboard/safety-gate/internal/messaging"
	"github.com/brightboard/safety-gate/internal/metrics"
	"github.com/brightboard/safety-gate/internal/migrations"
)

func main() {
	log.Println("Starting message safety gate...")

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Postgres setup.
	if cfg.RunMigrations {
		if err := migrations.Run(cfg.DatabaseURL); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open Postgres: %v", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	cancel()

	// Redis setup.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	svc, err := gate.Wire(cfg, db, rdb, natsClient)
	if err != nil {
		log.Fatalf("failed to build gate: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		log.Fatalf("failed to start gate: %v", err)
	}
	if err := natsClient.SubscribeEvaluate(svc.Gate.HandleRequest); err != nil {
		log.Fatalf("failed to subscribe to evaluate requests: %v", err)
	}

	// Metrics and health.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics server error: %v", err)
		}
	}()

	log.Printf("Message safety gate running")
	log.Printf("  listen_addr:  %s", cfg.ListenAddr)
	log.Printf("  redis_addr:   %s", cfg.RedisAddr)
	log.Printf("  nats_url:     %s", natsConfig.URL)
	log.Printf("  rules:        %s", svc.Rules.Load().Version)
	log.Printf("  classifier:   %v (timeout %s)", svc.Classified(), cfg.ClassifierTimeout)
	log.Printf("  policy:       threshold=%d force_review=%v", cfg.Policy.SeverityThreshold, cfg.Policy.ForceReviewOnUnavailable)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	// Stop taking requests before draining side effects.
	natsClient.Close()
	svc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown: %v", err)
	}
	stop()
	rdb.Close()
	db.Close()
}
