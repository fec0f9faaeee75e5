package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"surfacescan/internal/cache"
	"surfacescan/internal/config"
	"surfacescan/internal/database"
	"surfacescan/internal/detector"
	"surfacescan/internal/objectstore"
	"surfacescan/internal/observability"
	"surfacescan/internal/queue"
	"surfacescan/internal/vulnfeed"
	"surfacescan/internal/worker"
)

// main runs the render and analyze worker pools as two independently
// concurrent dispatcher groups against the scan-queue and
// analysis-queue respectively. A RenderWorker's own Process call
// blocks on the analysis it enqueues (see RenderWorker.waitForAnalysis),
// so both pools must run concurrently for a single scan to complete:
// the analyze-queue dispatcher is what moves the scan the render
// dispatcher is blocked waiting on.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded (normal outside local dev): %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDatabaseWithConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	q, err := queue.NewRedisQueue(&cfg.Queue, logger)
	if err != nil {
		logger.Fatal("failed to connect to queue", zap.Error(err))
	}
	defer q.Close()

	var store objectstore.Store
	if cfg.Features.ObjectStoreEnabled {
		store = objectstore.New(cfg.ObjectStore.URL, cfg.ObjectStore.APIKey, cfg.ObjectStore.Bucket)
	} else {
		store = objectstore.NewFakeStore()
	}

	renderWorker := worker.NewRenderWorker(db, store, q, &cfg.SSRF, cfg.Render, logger)

	det := detector.New(logger)

	// A Redis read-through layer sits in front of the durable
	// vulnerability_cache table so a warm cache entry never pays a
	// database round trip. Redis is optional here: if it can't be
	// reached at startup, the layered cache just falls through to db
	// on every call rather than failing the worker over it.
	redisCache, err := cache.NewVulnerabilityCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix, cfg.Redis.TTL)
	if err != nil {
		logger.Warn("vulnerability cache redis unavailable, falling back to database-only caching", zap.Error(err))
		redisCache = nil
	} else {
		defer redisCache.Close()
	}
	vulnCache := cache.NewLayeredVulnerabilityCache(redisCache, db, logger)

	// AnalyzeWorker.Process calls feed.GetVulnerabilities unconditionally,
	// so the client is always built; FeatureFlags.VulnFeedEnabled governs
	// whether the upstream feed URL is reachable/configured, not whether
	// this call site exists.
	feed := vulnfeed.New(vulnCache, vulnfeed.Config{
		BaseURL:     cfg.VulnFeed.BaseURL,
		Timeout:     cfg.VulnFeed.Timeout,
		MaxRetries:  cfg.VulnFeed.MaxRetries,
		PositiveTTL: cfg.VulnFeed.PositiveTTL,
		NegativeTTL: cfg.VulnFeed.NegativeTTL,
	}, logger)
	analyzeWorker := worker.NewAnalyzeWorker(db, store, det, feed, logger, cfg.Queue.VisibilityTimeout)

	heartbeatInterval := cfg.Queue.VisibilityTimeout / 3
	if heartbeatInterval <= 0 {
		heartbeatInterval = 10 * time.Second
	}

	renderDispatcher := worker.NewDispatcher(q, queue.ScanQueueName, cfg.Queue.WorkerConcurrency, heartbeatInterval, 500*time.Millisecond, logger,
		func(ctx context.Context, job *queue.Job) error {
			task, err := worker.UnmarshalScanTask(job)
			if err != nil {
				return err
			}
			_, err = renderWorker.Process(ctx, task)
			return err
		})

	analyzeDispatcher := worker.NewDispatcher(q, queue.AnalysisQueueName, cfg.Queue.WorkerConcurrency, heartbeatInterval, 500*time.Millisecond, logger,
		func(ctx context.Context, job *queue.Job) error {
			task, err := worker.UnmarshalAnalysisTask(job)
			if err != nil {
				return err
			}
			return analyzeWorker.Process(ctx, task)
		})

	stalledTicker := time.NewTicker(cfg.Queue.StalledCheckEvery)
	defer stalledTicker.Stop()
	go func() {
		for {
			select {
			case <-stalledTicker.C:
				for _, qn := range []string{queue.ScanQueueName, queue.AnalysisQueueName} {
					if n, err := q.CheckStalled(ctx, qn); err != nil {
						logger.Warn("stalled-job check failed", zap.String("queue", qn), zap.Error(err))
					} else if n > 0 {
						logger.Info("recovered stalled jobs", zap.String("queue", qn), zap.Int("count", n))
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	renderDispatcher.Start(ctx)
	analyzeDispatcher.Start(ctx)
	logger.Info("worker pools started", zap.Int("concurrencyPerPool", cfg.Queue.WorkerConcurrency))

	<-ctx.Done()
	logger.Info("shutting down worker pools")

	done := make(chan struct{})
	go func() {
		renderDispatcher.Stop()
		analyzeDispatcher.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("worker pools stopped cleanly")
	case <-time.After(30 * time.Second):
		logger.Warn("worker shutdown grace period elapsed, exiting")
	}
}
