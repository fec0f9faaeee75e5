package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"surfacescan/internal/api/handlers"
	"surfacescan/internal/api/middleware"
	"surfacescan/internal/apierror"
	"surfacescan/internal/config"
	"surfacescan/internal/database"
	"surfacescan/internal/objectstore"
	"surfacescan/internal/observability"
	"surfacescan/internal/queue"
	"surfacescan/internal/ratelimit"
)

// Server wires every dependency the API gateway's handlers need and
// owns the HTTP listener's lifecycle.
type Server struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server

	scans     *handlers.ScansHandler
	results   *handlers.ResultsHandler
	analytics *handlers.AnalyticsHandler
	dlq       *handlers.QueueHandler
	health    *handlers.HealthHandler

	errors      *apierror.Handler
	rateLimiter *ratelimit.ClientLimiter
	metrics     *observability.Metrics
}

// NewServer builds a Server from its already-constructed dependencies.
func NewServer(
	cfg *config.Config,
	logger *zap.Logger,
	metrics *observability.Metrics,
	errors *apierror.Handler,
	rateLimiter *ratelimit.ClientLimiter,
	scans *handlers.ScansHandler,
	results *handlers.ResultsHandler,
	analytics *handlers.AnalyticsHandler,
	dlq *handlers.QueueHandler,
	health *handlers.HealthHandler,
) *Server {
	return &Server{
		config:      cfg,
		logger:      logger,
		metrics:     metrics,
		errors:      errors,
		rateLimiter: rateLimiter,
		scans:       scans,
		results:     results,
		analytics:   analytics,
		dlq:         dlq,
		health:      health,
	}
}

// setupRoutes registers every REST endpoint from spec §6 on a gorilla
// router, grounded on the teacher's internal/api/routes subrouter
// style (PathPrefix + Methods rather than one flat handler list).
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	healthRouter := router.PathPrefix("/health").Subrouter()
	healthRouter.HandleFunc("", s.health.Health).Methods(http.MethodGet)
	healthRouter.HandleFunc("/live", s.health.Live).Methods(http.MethodGet)
	healthRouter.HandleFunc("/ready", s.health.Ready).Methods(http.MethodGet)

	if s.config.Observability.MetricsEnabled {
		router.Handle(s.config.Observability.MetricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	scansRouter := router.PathPrefix("/api/scans").Subrouter()
	scansRouter.HandleFunc("", s.scans.Create).Methods(http.MethodPost)
	scansRouter.HandleFunc("", s.scans.List).Methods(http.MethodGet)
	scansRouter.HandleFunc("/by-url/last-good", s.scans.LastGoodForURL).Methods(http.MethodGet)
	scansRouter.HandleFunc("/{id}", s.scans.Get).Methods(http.MethodGet)
	scansRouter.HandleFunc("/{id}", s.scans.Delete).Methods(http.MethodDelete)
	scansRouter.HandleFunc("/{id}/status", s.scans.Status).Methods(http.MethodGet)
	scansRouter.HandleFunc("/{id}/results", s.results.Get).Methods(http.MethodGet)
	scansRouter.HandleFunc("/{id}/surface", s.results.Surface).Methods(http.MethodGet)

	analyticsRouter := router.PathPrefix("/api/analytics").Subrouter()
	analyticsRouter.HandleFunc("/summary", s.analytics.Summary).Methods(http.MethodGet)

	if s.config.Features.DLQInspectionAPI {
		queueRouter := router.PathPrefix("/api/queue").Subrouter()
		queueRouter.HandleFunc("/dlq", s.dlq.DeadLetters).Methods(http.MethodGet)
		queueRouter.HandleFunc("/metrics", s.dlq.Metrics).Methods(http.MethodGet)
	}

	return router
}

// setupMiddleware assembles the chain applied to every request, in
// the order a request actually sees them: a request ID is assigned
// first so every later middleware (including the panic recoverer) can
// log it, then panic recovery wraps everything downstream, then
// access logging, CORS, security headers, Prometheus metrics, and
// finally rate limiting nearest the handlers.
func (s *Server) setupMiddleware(router *mux.Router) http.Handler {
	var h http.Handler = router
	h = middleware.RateLimit(s.rateLimiter, s.errors)(h)
	h = middleware.Metrics(s.metrics)(h)
	h = middleware.SecurityHeaders(h)
	h = middleware.CORS(s.config.Server.CORS)(h)
	h = middleware.AccessLog(s.logger)(h)
	h = middleware.Recover(s.logger, s.errors)(h)
	h = middleware.RequestID(h)
	return h
}

// Start begins serving on the configured address. It returns once the
// listener stops, either from Shutdown or a fatal accept error.
func (s *Server) Start() error {
	router := s.setupRoutes()
	handler := s.setupMiddleware(router)

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.logger.Info("api gateway listening", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("api gateway shutting down")
	return s.server.Shutdown(ctx)
}

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

	ctx := context.Background()

	// An operator-mounted CONFIG_FILE is watched for changes so feature
	// flags and the SSRF allowlist can be retuned without a redeploy;
	// see internal/config.Watcher. Optional: most deployments configure
	// entirely through env vars and never set CONFIG_FILE.
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		watcher, err := config.NewWatcher(path, cfg, logger, nil)
		if err != nil {
			logger.Warn("config file watch unavailable, edits to CONFIG_FILE will require a restart", zap.String("path", path), zap.Error(err))
		} else {
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	db, err := database.NewDatabaseWithConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	var q queue.Queue
	redisQueue, err := queue.NewRedisQueue(&cfg.Queue, logger)
	if err != nil {
		logger.Fatal("failed to connect to queue", zap.Error(err))
	}
	q = redisQueue

	var store objectstore.Store
	if cfg.Features.ObjectStoreEnabled {
		store = objectstore.New(cfg.ObjectStore.URL, cfg.ObjectStore.APIKey, cfg.ObjectStore.Bucket)
	}

	metrics := observability.NewMetrics()
	errorHandler := apierror.NewHandler(logger)
	cooldown := ratelimit.NewCooldown(cfg.Server.SubmitCooldown)
	rateLimiter := ratelimit.NewClientLimiter(
		cfg.Server.RateLimit.RequestsPerSecond,
		cfg.Server.RateLimit.Burst,
		cfg.Server.RateLimit.CleanupInterval,
		logger,
	)

	scansHandler := handlers.NewScansHandler(db, q, cooldown, &cfg.SSRF, errorHandler, logger, cfg.Queue)
	resultsHandler := handlers.NewResultsHandler(db, errorHandler, logger)
	analyticsHandler := handlers.NewAnalyticsHandler(db, errorHandler, logger)
	queueHandler := handlers.NewQueueHandler(q, errorHandler, logger)
	healthHandler := handlers.NewHealthHandler(db, q, store, cfg.Features.ObjectStoreEnabled, logger)

	server := NewServer(cfg, logger, metrics, errorHandler, rateLimiter, scansHandler, resultsHandler, analyticsHandler, queueHandler, healthHandler)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		logger.Error("database close failed", zap.Error(err))
	}
	if err := q.Close(); err != nil {
		logger.Error("queue close failed", zap.Error(err))
	}

	logger.Info("api gateway shutdown complete")
}
