package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sevakpoints/internal/config"
	"sevakpoints/internal/importer"
	"sevakpoints/internal/ledger"
	"sevakpoints/internal/queue"
	"sevakpoints/internal/store"
)

// Worker consumes bulk import jobs and writes their reports.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if cfg.QueueBackend == "memory" {
		log.Fatalf("QUEUE_BACKEND=memory runs imports inside the api process, the worker needs redis")
	}
	if cfg.StoreBackend != "postgres" {
		log.Fatalf("the worker needs STORE_BACKEND=postgres")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	policy, err := cfg.Policy()
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s, waiting for jobs anyway", cfg.RedisAddr)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	svc := ledger.NewService(ledger.NewRepository(db.Client), policy,
		ledger.WithCache(redisClient, cfg.LeaderboardCacheTTL),
		ledger.WithLogger(logger))
	runner := importer.NewRunner(svc, importer.NewReports(redisClient, 24*time.Hour), logger)

	log.Println("worker started, waiting for import jobs...")
	if err := runner.Consume(ctx, queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)); err != nil {
		log.Fatalf("queue consume failed: %v", err)
	}
	log.Println("worker stopped")
}
