package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sevakpoints/internal/auth"
	"sevakpoints/internal/cloudinary"
	"sevakpoints/internal/config"
	"sevakpoints/internal/handler"
	"sevakpoints/internal/httpmiddleware"
	"sevakpoints/internal/importer"
	"sevakpoints/internal/ledger"
	"sevakpoints/internal/queue"
	"sevakpoints/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	clock, err := cfg.Clock()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var (
		db          *store.DB
		ledgerStore ledger.Store
	)
	if cfg.StoreBackend == "memory" {
		log.Println("using in-memory ledger store, data is lost on restart")
		ledgerStore = ledger.NewMemStore()
	} else {
		if cfg.MigrateOnStart {
			if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
				return err
			}
		}
		db, err = store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		ledgerStore = ledger.NewRepository(db.Client)
	}

	// Memory queue mode keeps the leaderboard cache and import reports in process too.
	var (
		redisClient *store.Redis
		cache       ledger.Cache
		q           queue.Queue
	)
	if cfg.QueueBackend == "memory" {
		cache = store.NewMemKV()
		q = queue.NewInMemory(64)
	} else {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		cache = redisClient
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	svc := ledger.NewService(ledgerStore, policy,
		ledger.WithCache(cache, cfg.LeaderboardCacheTTL),
		ledger.WithLogger(logger))
	reports := importer.NewReports(cache, 24*time.Hour)

	// Cloudinary client (nil when not configured)
	var archive importer.Archiver
	if cfg.CloudinaryEnabled() {
		archive = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured, uploaded rosters are not archived")
	}

	if cfg.QueueBackend == "memory" {
		runner := importer.NewRunner(svc, reports, logger)
		go func() {
			if err := runner.Consume(ctx, q); err != nil {
				log.Printf("import consumer stopped: %v", err)
			}
		}()
	}

	h := handler.New(svc, clock, cfg.PointsStep,
		handler.WithImports(importer.NewSubmitter(q, reports, archive, logger), reports))

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS(cfg.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.Metrics())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient == nil || redisClient.Healthy(c.Request.Context())
		dbHealthy := cfg.StoreBackend == "memory" || db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Rate limiting is charged per staff member once the token is known.
	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).
		WithKey(func(c *gin.Context) string { return auth.ActorFrom(c).Email })
	v1 := r.Group("/v1", auth.Identity(cfg.JWTSigningKey, cfg.JWTIssuer), limiter.GinMiddleware())
	h.Register(v1)

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}
