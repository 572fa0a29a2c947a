package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	billingapp "github.com/fleetbill/backend/internal/application/billing"
	eventapp "github.com/fleetbill/backend/internal/application/event"
	"github.com/fleetbill/backend/internal/infrastructure/auth"
	"github.com/fleetbill/backend/internal/infrastructure/cache"
	"github.com/fleetbill/backend/internal/infrastructure/config"
	"github.com/fleetbill/backend/internal/infrastructure/event"
	"github.com/fleetbill/backend/internal/infrastructure/logger"
	"github.com/fleetbill/backend/internal/infrastructure/messaging"
	"github.com/fleetbill/backend/internal/infrastructure/persistence"
	"github.com/fleetbill/backend/internal/infrastructure/scheduler"
	"github.com/fleetbill/backend/internal/infrastructure/telemetry"
	"github.com/fleetbill/backend/internal/interfaces/http/handler"
	"github.com/fleetbill/backend/internal/interfaces/http/middleware"
	"github.com/fleetbill/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

//	@title			FleetBill Backend API
//	@version		1.0
//	@description	Ride-hailing billing ledger and invoice generation API

//	@contact.name	API Support
//	@contact.url	https://github.com/fleetbill/backend

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@host		localhost:8080
//	@BasePath	/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	// Ship logs to the collector alongside stdout when enabled
	logsProvider, err := telemetry.NewLoggerProvider(context.Background(), telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := logsProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()
	if logsProvider.IsEnabled() {
		otelCore := logsProvider.ZapCore(cfg.Telemetry.ServiceName, logger.ParseLevel(cfg.Log.Level))
		log = telemetry.BridgeLogger(log, otelCore)
	}

	log.Info("Starting FleetBill Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel, 200*time.Millisecond)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Initialize OpenTelemetry tracing and metrics
	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	meterProvider, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	// GORM query tracing via otelgorm
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		dbTracingCfg := telemetry.DefaultDBTracingConfig()
		dbTracingCfg.Enabled = true
		dbTracing := telemetry.NewDBTracingPlugin(dbTracingCfg, log)
		if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
			log.Warn("Failed to register database tracing plugin", zap.Error(err))
		}
	}

	// Database connection pool metrics
	if meterProvider.IsEnabled() {
		dbMetrics, err := telemetry.NewDBMetrics(meterProvider.Meter("fleetbill.db"), telemetry.DefaultDBMetricsConfig(), log)
		if err != nil {
			log.Warn("Failed to initialize database metrics", zap.Error(err))
		} else if sqlDB, err := db.DB.DB(); err == nil {
			dbMetrics.SetSQLDB(sqlDB)
			dbMetrics.StartPoolStatsCollection(context.Background())
		}
	}

	// Initialize repositories
	accountRepo := persistence.NewGormAccountRepository(db.DB)
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)
	numberAllocator := persistence.NewGormInvoiceNumberAllocator(db.DB)
	outboxRepo := event.NewGormOutboxRepository(db.DB)

	// Initialize event serializer and register all event types
	eventSerializer := event.NewEventSerializer()
	event.RegisterAllEvents(eventSerializer)

	// Create outbox publisher for transactional event saving
	outboxPublisher := event.NewOutboxPublisher(eventSerializer)

	// Inject outbox publisher into repositories that persist domain events
	accountRepo.SetOutboxEventSaver(outboxPublisher)
	invoiceRepo.SetOutboxEventSaver(outboxPublisher)

	// Initialize application services
	accountService := billingapp.NewAccountService(accountRepo, nil)
	invoiceService := billingapp.NewInvoiceService(accountRepo, invoiceRepo, numberAllocator, nil)
	cycleService := billingapp.NewBillingCycleService(accountRepo, invoiceRepo, invoiceService, nil, log)

	// Identity service for token verification
	jwtService := auth.NewJWTService(cfg.JWT)

	// Initialize event bus
	eventBus := event.NewInMemoryEventBus(log)

	// Idempotency store for exactly-once event handling (Redis with
	// in-memory fallback)
	storeFactory := cache.NewIdempotencyStoreFactory(cfg.Redis, cache.WithLogger(log))
	idempotencyStore, err := storeFactory.CreateStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}

	// External event publishing to Kafka (if enabled), guarded by the
	// idempotency store so outbox redelivery never duplicates messages
	var kafkaPublisher *messaging.KafkaEventPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher = messaging.NewKafkaEventPublisher(cfg.Kafka, eventSerializer, log)
		eventBus.Subscribe(event.NewIdempotentHandler(kafkaPublisher, idempotencyStore, log))
		log.Info("Kafka event publishing enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}
	defer func() {
		if kafkaPublisher != nil {
			if err := kafkaPublisher.Close(); err != nil {
				log.Error("Error closing kafka publisher", zap.Error(err))
			}
		}
	}()

	// Billing metrics driven by domain events
	var billingMetrics *telemetry.BillingMetrics
	if meterProvider.IsEnabled() {
		billingMetrics, err = telemetry.NewBillingMetrics(telemetry.BillingMetricsConfig{
			Meter:               meterProvider.Meter("fleetbill.billing"),
			Logger:              log,
			ReceivablesProvider: accountRepo,
		})
		if err != nil {
			log.Warn("Failed to initialize billing metrics", zap.Error(err))
		} else {
			eventBus.Subscribe(billingapp.NewMetricsEventHandler(billingMetrics, log))
			billingMetrics.StartPeriodicCollection(context.Background(), accountRepo, 5*time.Minute)
			defer billingMetrics.Stop()
		}
	}

	// Start event bus
	if err := eventBus.Start(context.Background()); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Initialize and start outbox processor for guaranteed event delivery.
	// The processor reads events from the outbox_events table and publishes
	// them to the event bus.
	outboxProcessorConfig := event.DefaultOutboxProcessorConfig()
	outboxProcessor := event.NewOutboxProcessor(outboxRepo, eventBus, eventSerializer, outboxProcessorConfig, log)
	if err := outboxProcessor.Start(context.Background()); err != nil {
		log.Fatal("Failed to start outbox processor", zap.Error(err))
	}
	defer func() {
		if err := outboxProcessor.Stop(context.Background()); err != nil {
			log.Error("Error stopping outbox processor", zap.Error(err))
		}
	}()
	log.Info("Outbox processor started",
		zap.Int("batch_size", outboxProcessorConfig.BatchSize),
		zap.Duration("poll_interval", outboxProcessorConfig.PollInterval),
	)

	// Scheduled billing cycle runs (if enabled)
	if cfg.Billing.CyclesEnabled {
		cycleScheduler := scheduler.NewBillingCycleScheduler(cycleService, accountRepo, cfg.Billing, log)
		if err := cycleScheduler.Start(); err != nil {
			log.Fatal("Failed to start billing cycle scheduler", zap.Error(err))
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Billing.CycleTimeout)
			defer cancel()
			if err := cycleScheduler.Stop(stopCtx); err != nil {
				log.Error("Error stopping billing cycle scheduler", zap.Error(err))
			}
		}()
		log.Info("Billing cycle scheduler started",
			zap.String("daily", cfg.Billing.DailyCronSchedule),
			zap.String("weekly", cfg.Billing.WeeklyCronSchedule),
			zap.String("monthly", cfg.Billing.MonthlyCronSchedule),
		)
	}

	// Initialize HTTP handlers
	accountHandler := handler.NewAccountHandler(accountService)
	invoiceHandler := handler.NewInvoiceHandler(invoiceService)
	cycleHandler := handler.NewBillingCycleHandler(cycleService)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	// Initialize router with custom middleware
	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Recovery - Catch panics
	// 3. Logger - Log requests
	// 4. Tracing/Metrics - OpenTelemetry instrumentation
	// 5. Security - Add security headers
	// 6. CORS - Handle cross-origin requests
	// 7. BodyLimit - Limit request body size
	// 8. RateLimit - Apply rate limiting (if enabled)
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: meterProvider,
		ServiceName:   cfg.Telemetry.ServiceName,
		Enabled:       cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.Secure())

	// Configure CORS from config
	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	// Body size limit
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Rate limiting (if enabled)
	if cfg.HTTP.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		engine.Use(middleware.RateLimit(rateLimiter))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db, log))

	// Setup API routes using router
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	// Apply JWT authentication middleware to API routes
	jwtConfig := middleware.JWTMiddlewareConfig{
		JWTService: jwtService,
		SkipPaths: []string{
			"/api/v1/ping",
			"/api/v1/system/ping",
			"/api/v1/system/info",
		},
		Logger: log,
	}
	r.Use(middleware.JWTAuthMiddlewareWithConfig(jwtConfig))

	// Resolve the tenant after authentication. Handlers fall back to the
	// X-Tenant-ID header in development, so the middleware only enriches
	// the request context rather than rejecting tenantless requests.
	r.Use(middleware.TenantMiddlewareWithConfig(middleware.TenantMiddlewareConfig{
		HeaderEnabled: true,
		JWTEnabled:    true,
		SkipPaths: []string{
			"/api/v1/ping",
			"/api/v1/system/ping",
			"/api/v1/system/info",
		},
		Required: false,
		Logger:   log,
	}))

	// Stamp server spans with the tenant and user now that auth has run
	r.Use(middleware.TracingAttributeInjector())

	// Billing domain (accounts, ledger postings, invoices, cycles)
	billingRoutes := router.NewDomainGroup("billing", "/billing")
	billingRoutes.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "billing service ready"})
	})

	// Account routes
	billingRoutes.POST("/accounts", accountHandler.Create)
	billingRoutes.GET("/accounts", accountHandler.List)
	billingRoutes.GET("/accounts/:id", accountHandler.GetByID)
	billingRoutes.GET("/accounts/:id/balance", accountHandler.GetBalance)
	billingRoutes.GET("/accounts/:id/postings", accountHandler.ListPostings)
	billingRoutes.POST("/accounts/:id/charges", accountHandler.RecordCharge)
	billingRoutes.POST("/accounts/:id/payments", accountHandler.RecordPayment)
	billingRoutes.POST("/accounts/:id/deactivate", accountHandler.Deactivate)

	// Invoice routes
	billingRoutes.POST("/invoices", invoiceHandler.Generate)
	billingRoutes.GET("/invoices", invoiceHandler.List)
	billingRoutes.GET("/invoices/by-number/:number", invoiceHandler.GetByNumber)
	billingRoutes.GET("/invoices/:id", invoiceHandler.GetByID)
	billingRoutes.POST("/invoices/:id/void", invoiceHandler.Void)

	// Billing cycle routes
	billingRoutes.POST("/cycles/run", cycleHandler.Run)

	r.Register(billingRoutes)

	// Register system routes
	systemHandler := handler.NewSystemHandler()
	outboxHandler := handler.NewOutboxHandler(eventapp.NewOutboxService(outboxRepo, log))
	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	systemRoutes.GET("/ping", systemHandler.Ping)

	// Outbox dead letter administration, restricted to operators
	outboxAdmin := middleware.RequirePermission("system:outbox")
	systemRoutes.GET("/outbox/stats", outboxAdmin, outboxHandler.GetStats)
	systemRoutes.GET("/outbox/dead", outboxAdmin, outboxHandler.GetDeadLetterEntries)
	systemRoutes.POST("/outbox/dead/retry-all", outboxAdmin, outboxHandler.RetryAllDeadEntries)
	systemRoutes.GET("/outbox/:id", outboxAdmin, outboxHandler.GetEntry)
	systemRoutes.POST("/outbox/:id/retry", outboxAdmin, outboxHandler.RetryDeadEntry)
	r.Register(systemRoutes)

	// Setup routes
	r.Setup()

	// Also keep a simple ping at root API level for basic health checks
	engine.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

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
func healthHandler(db *persistence.Database, _ *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
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
