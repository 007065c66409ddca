package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"domain-activation-service/internal/config"
	"domain-activation-service/internal/events"
	"domain-activation-service/internal/handlers"
	"domain-activation-service/internal/models"
	"domain-activation-service/internal/providers"
	"domain-activation-service/internal/repository"
	"domain-activation-service/internal/services"
	"domain-activation-service/internal/workers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// Initialize logging
	initLogging()

	log.Info().Msg("Starting domain-activation-service")

	// Load configuration
	cfg := config.NewConfig()

	// Initialize database
	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize Redis
	redisClient := initRedis(cfg)

	// Initialize repositories
	activationRepo := repository.NewActivationRepository(db)
	billingRepo := repository.NewBillingRepository(db)

	// Initialize provider clients
	registrarClient := providers.NewRegistrarClient(&cfg.Registrar)
	edgeClient := providers.NewEdgeClient(&cfg.Edge)
	paymentVerifier := providers.NewPaymentVerifier(&cfg.Payment)

	// Initialize DNS checker
	dnsChecker := services.NewDNSChecker()

	// Initialize NATS event publisher
	var eventPublisher *events.Publisher
	if cfg.NATS.URL != "" {
		eventPublisher, err = events.NewPublisher(cfg.NATS.URL, "domain-activation-service")
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize NATS publisher, events will not be published")
		} else {
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS event publisher initialized")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := eventPublisher.EnsureStream(ctx, events.StreamDomains, []string{"domain.>"}); err != nil {
				log.Warn().Err(err).Msg("Failed to ensure domain events stream")
			}
			cancel()
		}
	} else {
		log.Warn().Msg("NATS URL not configured, event publishing disabled")
	}

	// Initialize services
	var publisher services.EventPublisher
	if eventPublisher != nil {
		publisher = eventPublisher
	}

	activationService := services.NewActivationService(
		activationRepo,
		billingRepo,
		registrarClient,
		edgeClient,
		dnsChecker,
		redisClient,
		publisher,
		cfg,
	)
	billingReconciler := services.NewBillingReconciler(billingRepo, activationRepo, redisClient, publisher)

	// Initialize handlers
	domainHandlers := handlers.NewDomainHandlers(activationService)
	webhookHandlers := handlers.NewWebhookHandlers(paymentVerifier, billingReconciler)
	internalHandlers := handlers.NewInternalHandlers(activationService, db)

	// Create router
	router := setupRouter(cfg, domainHandlers, webhookHandlers, internalHandlers)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startWorkers(ctx, cfg, activationRepo, billingRepo, activationService)

	// Start server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Cancel context to stop workers
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Close database connection
	sqlDB, _ := db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}

	// Close Redis connection
	if redisClient != nil {
		redisClient.Close()
	}

	// Close NATS event publisher
	if eventPublisher != nil {
		eventPublisher.Close()
	}

	log.Info().Msg("Server exited")
}

func initLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// Use JSON logging in production
	if os.Getenv("GIN_MODE") == "release" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormLogger := logger.Default
	if os.Getenv("GIN_MODE") == "release" {
		gormLogger = logger.Default.LogMode(logger.Silent)
	} else {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormLogger,
		// Needed so unique-violation errors surface as gorm.ErrDuplicatedKey
		// for the billing event dedup path
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func runMigrations(db *gorm.DB) error {
	log.Info().Msg("Running database migrations")

	// Create extension for UUID generation
	db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"")

	// Run auto-migrations
	return db.AutoMigrate(
		&models.DomainActivation{},
		&models.ActivationActivity{},
		&models.BillingState{},
		&models.ProcessedBillingEvent{},
	)
}

func initRedis(cfg *config.Config) *redis.Client {
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to parse Redis URL, using defaults")
		opt = &redis.Options{
			Addr: fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		}
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("Failed to connect to Redis, caching disabled")
		return nil
	}

	log.Info().Msg("Connected to Redis")
	return client
}

func setupRouter(
	cfg *config.Config,
	domainHandlers *handlers.DomainHandlers,
	webhookHandlers *handlers.WebhookHandlers,
	internalHandlers *handlers.InternalHandlers,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	// CORS is handled at the platform gateway for customer traffic; this
	// list covers the dashboard surfaces that call the API directly
	allowedOrigins := []string{
		"https://dashboard.sitebuilder.app",
		"https://dashboard.staging.sitebuilder.app",
	}
	if extraOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); extraOrigins != "" {
		allowedOrigins = append(allowedOrigins, splitAndTrim(extraOrigins, ",")...)
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Site-ID", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health endpoints
	router.GET("/health", internalHandlers.Health)
	router.GET("/ready", internalHandlers.Ready)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		domains := v1.Group("/domains")
		{
			domains.POST("", domainHandlers.RequestActivation)
			domains.GET("", domainHandlers.ListActivations)
			domains.POST("/purchase", domainHandlers.PurchaseDomain)
			domains.POST("/availability", domainHandlers.CheckAvailability)
			domains.GET("/:hostname", domainHandlers.GetActivation)
			domains.GET("/:hostname/activities", domainHandlers.GetActivities)
			domains.DELETE("/:hostname", domainHandlers.Teardown)
		}

		// Payment provider webhooks (signature-verified, no gateway auth)
		v1.POST("/webhooks/payment", webhookHandlers.HandlePaymentWebhook)
	}

	// Internal routes (service-to-service)
	internal := router.Group("/internal/v1")
	{
		internal.GET("/serving/:hostname", internalHandlers.GetServing)
		internal.GET("/resolve/:hostname", internalHandlers.ResolveHostname)
	}

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

func startWorkers(
	ctx context.Context,
	cfg *config.Config,
	activationRepo *repository.ActivationRepository,
	billingRepo *repository.BillingRepository,
	activationService *services.ActivationService,
) {
	// Reconcile worker drives pending activations through the state machine
	reconcileWorker := workers.NewReconcileWorker(cfg, activationRepo, activationService)
	go reconcileWorker.Start(ctx)

	// Certificate monitor re-examines live activations
	certWorker := workers.NewCertMonitorWorker(cfg, activationRepo, activationService)
	go certWorker.Start(ctx)

	// Cleanup worker prunes aged audit and dedup rows
	cleanupWorker := workers.NewCleanupWorker(cfg, activationRepo, billingRepo)
	go cleanupWorker.Start(ctx)

	log.Info().Msg("Background workers started")
}

// splitAndTrim splits a string by separator and trims whitespace from each element
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
