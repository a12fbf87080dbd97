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

	"github.com/brightboard/safety-gate/internal/api"
	"github.com/brightboard/safety-gate/internal/config"
	"github.com/brightboard/safety-gate/internal/gate"
	"github.com/brightboard/safety-gate/internal/messaging"
	"github.com/brightboard/safety-gate/internal/migrations"
	"github.com/brightboard/safety-gate/internal/ratelimit"
)

func main() {
	log.Println("Starting safety review API...")

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	auth, err := api.NewAuthenticator(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("JWT_SECRET is required: %v", err)
	}

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
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	cancel()

	// Redis setup.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// NATS setup. Concerns raised through /v1/evaluate are announced like
	// those from the pipeline.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "safetygate-reviewapi"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	svc, err := gate.Wire(cfg, db, rdb, natsClient)
	if err != nil {
		log.Fatalf("failed to build gate: %v", err)
	}
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	if err := svc.Start(runCtx); err != nil {
		log.Fatalf("failed to start gate: %v", err)
	}

	router := api.NewRouter(&api.Container{
		Auth:     auth,
		Concerns: svc.Concerns,
		Audit:    svc.Audit,
		Gate:     svc.Gate,
		Limiter:  ratelimit.NewLimiter(rdb),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	log.Printf("Safety review API running")
	log.Printf("  listen_addr: %s", cfg.ListenAddr)
	log.Printf("  redis_addr:  %s", cfg.RedisAddr)
	log.Printf("  nats_url:    %s", natsConfig.URL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	svc.Stop()
	stop()
	natsClient.Close()
	rdb.Close()
	db.Close()
}
