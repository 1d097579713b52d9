// Package main is the entry point for the casualty generation service.
//
// It wires together configuration, the durable store, the reference-data
// cache, the rate limiter, the domain managers (catalog, evacuation,
// protocol selection, simulator), the job controller, and the HTTP API
// server. It supports graceful shutdown on SIGINT/SIGTERM, mirroring the
// wiring-then-serve-then-drain shape of aegis's cmd/main.go.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/banton/medical-patients-sub003/api"
	"github.com/banton/medical-patients-sub003/internal/apikeys"
	"github.com/banton/medical-patients-sub003/internal/cache"
	"github.com/banton/medical-patients-sub003/internal/catalog"
	"github.com/banton/medical-patients-sub003/internal/evac"
	"github.com/banton/medical-patients-sub003/internal/jobs"
	"github.com/banton/medical-patients-sub003/internal/middleware"
	"github.com/banton/medical-patients-sub003/internal/protocol"
	"github.com/banton/medical-patients-sub003/internal/simulator"
	"github.com/banton/medical-patients-sub003/internal/store"
	"github.com/banton/medical-patients-sub003/pkg/config"
)

func main() {
	fmt.Println("==============================================")
	fmt.Println("  Casualty Generation Service")
	fmt.Println("==============================================")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Printf("Configuration loaded: port=%s, log_level=%s, output_root=%s, workers=%d, retention=%d days",
		cfg.Port, cfg.LogLevel, cfg.OutputRoot, cfg.WorkerPoolSize, cfg.JobRetentionDays)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, dbPool := newStore(ctx, cfg)
	if dbPool != nil {
		defer dbPool.Close()
	}

	var rateLimiter apikeys.RateLimiter
	var refCache cache.Cache
	if cfg.CacheURL != "" {
		redisCache, cacheErr := cache.NewRedisCache(ctx, cfg.CacheURL)
		if cacheErr != nil {
			log.Printf("WARNING: cache unavailable (%v), running with a no-op cache", cacheErr)
			refCache = cache.NoOp{}
			rateLimiter = apikeys.NewMemoryRateLimiter()
		} else {
			refCache = redisCache
			rateLimiter = apikeys.NewRedisRateLimiter(redisCache.Client())
			defer redisCache.Close()
		}
	} else {
		log.Println("CACHE_URL not set: running with a no-op cache and an in-memory rate limiter")
		refCache = cache.NoOp{}
		rateLimiter = apikeys.NewMemoryRateLimiter()
	}
	auth := apikeys.New(st, rateLimiter, cfg.LegacyAPIKey)
	auth.SetCache(refCache)
	if err := apikeys.EnsureDemoKey(ctx, st, cfg.DemoAPIKey); err != nil {
		log.Fatalf("Failed to provision demo API key: %v", err)
	}

	cat := catalog.New()
	evacMgr, err := evac.New(evac.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to construct evacuation manager: %v", err)
	}
	protoSel := protocol.New()
	sim := simulator.New(cat, evacMgr, protoSel)

	ctrl := jobs.New(ctx, st, sim, cfg.OutputRoot, cfg.WorkerPoolSize, cfg.BatchSize, cfg.JobTimeoutSeconds, cfg.JobRetentionDays)

	recovered, err := ctrl.RecoverOrphanedJobs(ctx)
	if err != nil {
		log.Printf("WARNING: failed to recover orphaned jobs: %v", err)
	} else if recovered > 0 {
		log.Printf("Recovered %d orphaned job(s) to failed", recovered)
	}
	requeued, err := ctrl.RequeuePendingJobs(ctx)
	if err != nil {
		log.Printf("WARNING: failed to requeue pending jobs: %v", err)
	} else if requeued > 0 {
		log.Printf("Requeued %d pending job(s)", requeued)
	}
	ctrl.StartRetentionLoop(ctx, 1*time.Hour)

	log.Printf("All managers initialized")

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Logging())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	ready := func() bool { return true }
	handler := api.NewHandler(ctrl, auth, evacMgr, st, cfg.MaxPatientsPerRequest, ready)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Casualty generation service is ready on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down casualty generation service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Casualty generation service stopped")
}

// newStore connects to PostgreSQL if DATABASE_URL/POSTGRES_* resolve to a
// reachable instance, falling back to the in-memory store (non-durable,
// single-process only) otherwise.
func newStore(ctx context.Context, cfg *config.Config) (store.Store, *pgxpool.Pool) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("WARNING: failed to configure database pool: %v (running with the in-memory store)", err)
		return store.NewMemoryStore(), nil
	}
	if err := pool.Ping(ctx); err != nil {
		log.Printf("WARNING: database unreachable: %v (running with the in-memory store)", err)
		pool.Close()
		return store.NewMemoryStore(), nil
	}
	log.Printf("Database connected: %s", maskDSN(cfg.DatabaseURL))
	return store.NewPgStore(pool), pool
}

// maskDSN masks the password portion of a PostgreSQL connection string for
// safe logging.
func maskDSN(dsn string) string {
	masked := dsn
	atIdx := -1
	colonCount := 0
	for i, c := range dsn {
		if c == ':' {
			colonCount++
		}
		if c == '@' {
			atIdx = i
			break
		}
	}
	if atIdx > 0 && colonCount >= 2 {
		firstColon, secondColon := -1, -1
		for i, c := range dsn {
			if c == ':' {
				if firstColon == -1 {
					firstColon = i
				} else if secondColon == -1 {
					secondColon = i
					break
				}
			}
		}
		if secondColon > 0 && secondColon < atIdx {
			masked = dsn[:secondColon+1] + "****" + dsn[atIdx:]
		}
	}
	return masked
}
