package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/engagepush/backend/internal/api"
	"github.com/engagepush/backend/internal/auth"
	"github.com/engagepush/backend/internal/config"
	"github.com/engagepush/backend/internal/dispatch"
	"github.com/engagepush/backend/internal/domain"
	"github.com/engagepush/backend/internal/fcm"
	"github.com/engagepush/backend/internal/kv"
	"github.com/engagepush/backend/internal/metrics"
	"github.com/engagepush/backend/internal/middleware"
	"github.com/engagepush/backend/internal/payload"
	"github.com/engagepush/backend/internal/repository"
	"github.com/engagepush/backend/internal/scheduler"
	"github.com/engagepush/backend/internal/tracing"
	"github.com/engagepush/backend/internal/webpush"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting push delivery API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
	)

	metrics.Init()
	shutdownTracer := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.Insecure, logger)
	defer shutdownTracer()

	// Initialize database
	ctx := context.Background()
	db, err := initDatabase(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Connected to database")

	repo := repository.NewPostgresRepository(db)
	if err := repo.RunMigrations(ctx); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Durable key-value state: Redis when configured, otherwise in process
	healthDeps := map[string]api.Pinger{"postgres": db}
	var seen kv.SeenSet
	if cfg.Redis.URL != "" {
		rdb, err := kv.Open(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		seen = rdb
		healthDeps["redis"] = rdb
		logger.Info("Connected to redis")
	} else {
		logger.Warn("REDIS_URL not set - idempotency keys and scheduler run guard are per process")
		seen = kv.NewMemory()
	}

	// Transports
	webPushSender := webpush.NewSender(webpush.Config{
		PublicKey:  cfg.VAPID.PublicKey,
		PrivateKey: cfg.VAPID.PrivateKey,
		Subject:    cfg.VAPID.Subject,
		Timeout:    cfg.Push.Timeout,
	}, nil, logger)
	if err := webPushSender.Validate(); err != nil {
		logger.Warn("Web Push is NOT configured - deliveries will be rejected", zap.Error(err))
	}

	var tokenSender dispatch.Sender
	if cfg.FCM.CredentialsFile != "" {
		fcmClient, err := fcm.NewClient(ctx, logger, cfg.FCM.CredentialsFile)
		if err != nil {
			logger.Warn("Failed to initialize Firebase client - token subscriptions will fail", zap.Error(err))
		} else {
			tokenSender = fcmClient
			logger.Info("Firebase client initialized")
		}
	}

	// Initialize services
	registry := domain.NewRegistryService(repo, repo, logger)
	translator := payload.NewTranslator(cfg.Push.IOSDeclarative, cfg.FCM.AndroidColor)
	dispatcher := dispatch.New(registry, translator, webPushSender, tokenSender,
		dispatch.Config{TTL: cfg.Push.TTL, Concurrency: cfg.Push.Concurrency},
		logger,
		dispatch.WithRecorder(repo),
	)
	sched := scheduler.New(repo, dispatcher, logger,
		scheduler.WithLocation(cfg.Location()),
		scheduler.WithRunGuard(seen),
	)
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer)

	// Initialize handlers
	subscriptionHandler := api.NewSubscriptionHandler(registry, webPushSender.PublicKey(), logger)
	deliveryHandler := api.NewDeliveryHandler(dispatcher, seen, cfg.Delivery.IdempotencyTTL, logger)
	schedulerHandler := api.NewSchedulerHandler(sched, logger)
	healthHandler := api.NewHealthHandler(healthDeps)

	if cfg.Delivery.Secret == "" {
		logger.Warn("DELIVERY_API_SECRET not set - delivery endpoint rejects all callers")
	}
	if cfg.Scheduler.Secret == "" {
		logger.Warn("CRON_SECRET not set - scheduler endpoints reject all callers")
	}

	// Initialize router
	router := api.NewRouter(subscriptionHandler, deliveryHandler, schedulerHandler, healthHandler, jwtManager,
		api.RouterConfig{
			DeliverySecret:  cfg.Delivery.Secret,
			CronSecret:      cfg.Scheduler.Secret,
			AllowedOrigins:  cfg.CORS.AllowedOrigins,
			RegisterLimiter: middleware.NewRateLimiter(rate.Limit(cfg.Push.RegisterRate), cfg.Push.RegisterBurst),
		},
		logger,
	)
	r := router.Setup()

	// Start cleanup worker
	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	repo.StartCleanupWorker(cleanupCtx, cfg.Database.CleanupInterval, cfg.Database.LogRetention, logger)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	cleanupCancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(cfg.Log.Level); err == nil {
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

func initDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
