package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shiplabel/backend/internal/application/labels"
	"github.com/shiplabel/backend/internal/infrastructure/auth"
	"github.com/shiplabel/backend/internal/infrastructure/cache"
	"github.com/shiplabel/backend/internal/infrastructure/carrier"
	"github.com/shiplabel/backend/internal/infrastructure/config"
	"github.com/shiplabel/backend/internal/infrastructure/event"
	"github.com/shiplabel/backend/internal/infrastructure/logger"
	"github.com/shiplabel/backend/internal/infrastructure/persistence"
	"github.com/shiplabel/backend/internal/interfaces/http/handler"
	"github.com/shiplabel/backend/internal/interfaces/http/middleware"
	"github.com/shiplabel/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

// nonceAction scopes request nonces to the label surface
const nonceAction = "shipping-labels"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting shipping label backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Initialize database connection
	db, err := persistence.NewDatabase(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := db.Migrate(); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}
	log.Info("Database connected and migrated")

	// Carrier connect API client
	carrierClient := carrier.NewClient(cfg.Labels.CarrierURL, cfg.Labels.CarrierAPIKey,
		cfg.Labels.CarrierTimeout, log)

	// Rate cache: Redis when reachable, in-memory otherwise
	rateCache, err := cache.NewRateCacheFactory(cfg.Redis, cache.WithLogger(log)).Create()
	if err != nil {
		log.Fatal("Failed to create rate cache", zap.Error(err))
	}

	// Start event bus
	eventBus := event.NewInMemoryEventBus(log)
	if err := eventBus.Start(context.Background()); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Label store and per-order workspace manager
	store := persistence.NewStore(db.DB, carrierClient, eventBus, log)
	labelsConfig := labels.Config{
		PollInterval: cfg.Labels.PollInterval,
		PaperSize:    cfg.Account.PaperSize,
		RateTTL:      cfg.Labels.RateTTL,
	}
	openOrder := func(ctx context.Context, orderID int64) (labels.OrderStore, error) {
		return store.ForOrder(ctx, orderID)
	}
	manager := labels.NewManager(openOrder, carrierClient, rateCache, eventBus, labelsConfig, log)
	defer manager.Close()

	// Auth services
	jwtService := auth.NewJWTService(cfg.JWT)
	nonceService := auth.NewNonceService(cfg.JWT.Secret, cfg.Labels.NonceLifetime)

	// Initialize HTTP handlers
	labelsHandler := handler.NewLabelsHandler(manager, log)
	packagesHandler := handler.NewPackagesHandler(store, log)
	ordersHandler := handler.NewOrdersHandler(store, manager, log)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware stack: request id, panic recovery, request logging, CORS
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.RequestLogger(log))

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsConfig.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db))

	// The label surface requires a nonce or bearer token with the
	// manage-labels capability, and must never be cached
	labelsGuard := []gin.HandlerFunc{
		middleware.NoCache(),
		middleware.LabelsAuth(middleware.LabelsAuthConfig{
			JWT:         jwtService,
			Nonce:       nonceService,
			NonceAction: nonceAction,
		}),
	}

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.RegisterGuarded(labelsGuard, labelsHandler, packagesHandler, ordersHandler)
	r.Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler returns a handler for health check endpoints
func healthHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.FromGin(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
