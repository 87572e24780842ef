package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/scalable-order-system/internal/alert"
	"github.com/fairyhunter13/scalable-order-system/internal/config"
	"github.com/fairyhunter13/scalable-order-system/internal/eventlog"
	"github.com/fairyhunter13/scalable-order-system/internal/handler"
	"github.com/fairyhunter13/scalable-order-system/internal/outbox"
	"github.com/fairyhunter13/scalable-order-system/internal/queue"
	"github.com/fairyhunter13/scalable-order-system/internal/repository"
	"github.com/fairyhunter13/scalable-order-system/internal/saga"
	"github.com/fairyhunter13/scalable-order-system/internal/service"
	"github.com/fairyhunter13/scalable-order-system/internal/status"
	"github.com/fairyhunter13/scalable-order-system/internal/validator"
	"github.com/fairyhunter13/scalable-order-system/migrations"
	"github.com/fairyhunter13/scalable-order-system/pkg/database"
	"github.com/fairyhunter13/scalable-order-system/pkg/lock"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize zerolog based on configuration
	initLogger(cfg)

	// Create context for startup
	ctx := context.Background()

	// Initialize database pool with retry, then apply migrations
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(cfg.DB.MigrationDSN(), migrations.FS); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	// Redis backs the distributed locks, the async status store, and the
	// coupon cache
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to redis")
	}
	locker := lock.NewLocker(rdb)

	// Repositories
	userRepo := repository.NewUserRepository(pool)
	productRepo := repository.NewProductRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	userCouponRepo := repository.NewUserCouponRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)
	compensationRepo := repository.NewCompensationRepository(pool)
	eventRepo := repository.NewEventRepository(pool)

	// Outbox dispatcher publishing to the order and coupon event topics
	eventProducer, err := eventlog.NewProducer(cfg.Kafka.BrokerList(), cfg.Kafka.OrderEventTopic, cfg.Kafka.CouponEventTopic)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event log producer")
	}
	dispatcher := outbox.NewDispatcher(outboxRepo, eventProducer, outbox.Config{
		PollInterval: cfg.Outbox.PollInterval(),
		BatchSize:    cfg.Outbox.BatchSize,
		MaxRetries:   cfg.Outbox.MaxRetries,
		ClaimLease:   cfg.Outbox.ClaimLease(),
	})

	// Order saga
	var notifier saga.Notifier = alert.LogNotifier{}
	if cfg.Alert.WebhookURL != "" {
		notifier = alert.NewWebhookNotifier(cfg.Alert.WebhookURL, cfg.Alert.Timeout())
	}
	failureHandler := saga.NewFailureHandler(compensationRepo, notifier)

	timings := saga.StepTimings{LockWait: cfg.Saga.StepWait(), LockLease: cfg.Saga.StepLease()}
	orchestrator, err := saga.NewOrchestrator([]saga.Step{
		saga.NewDeductInventoryStep(pool, productRepo, orderRepo, locker, timings),
		saga.NewDeductBalanceStep(pool, userRepo, orderRepo, locker, timings),
		saga.NewUseCouponStep(pool, userCouponRepo),
		saga.NewCreateOrderStep(pool, orderRepo, outboxRepo, dispatcher.Wake),
	}, failureHandler, saga.LogEmitter{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build saga orchestrator")
	}
	orderService := saga.NewOrderService(pool, productRepo, couponRepo, orderRepo, orchestrator, failureHandler)

	// Coupon issuance pipeline
	statusStore := status.NewStore(rdb, cfg.AsyncStatus.TTLPending(), cfg.AsyncStatus.TTLTerminal())
	couponCache := service.NewCouponCache(rdb)

	queueProducer, err := queue.NewProducer(cfg.Kafka.BrokerList(), cfg.Kafka.CouponRequestTopic, cfg.Kafka.CouponDLQTopic)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create coupon queue producer")
	}
	// The partition count bounds worker parallelism, so the topics must
	// exist with the configured layout before the first append
	if err := queueProducer.EnsureTopics(ctx, int32(cfg.Coupon.Partitions)); err != nil {
		log.Fatal().Err(err).Msg("failed to provision coupon topics")
	}
	couponService := service.NewCouponService(
		pool, couponRepo, userCouponRepo, outboxRepo,
		queueProducer, statusStore, couponCache, cfg.Coupon.EnqueueTimeout(),
	)

	worker := queue.NewWorker(couponService, statusStore, queueProducer, cfg.Coupon.MaxRetries, cfg.Coupon.WorkerDeadline())
	queueConsumer, err := queue.NewConsumer(cfg.Kafka.BrokerList(), cfg.Kafka.CouponRequestTopic, cfg.Kafka.ConsumerGroup, worker)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create coupon queue consumer")
	}

	// Downstream consumer of the event topics (idempotency table)
	eventTopics := []string{cfg.Kafka.OrderEventTopic, cfg.Kafka.CouponEventTopic}
	eventConsumer, err := eventlog.NewConsumer(cfg.Kafka.BrokerList(), eventTopics, cfg.Kafka.EventGroup, eventRepo)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event log consumer")
	}

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); dispatcher.Run(workerCtx) }()
	go func() { defer wg.Done(); queueConsumer.Run(workerCtx) }()
	go func() { defer wg.Done(); eventConsumer.Run(workerCtx) }()

	// Initialize Fiber with production-ready configuration
	app := fiber.New(fiber.Config{
		AppName:      "Scalable Order System",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())

	validate := validator.New()

	orderHandler := handler.NewOrderHandler(orderService, validate)
	couponHandler := handler.NewCouponHandler(couponService, validate)
	compensationHandler := handler.NewCompensationHandler(compensationRepo)
	healthHandler := handler.NewHealthHandler(pool, handler.RedisPinger(rdb))

	app.Get("/health", healthHandler.Check)

	// Order routes
	app.Post("/api/orders", orderHandler.PlaceOrder)
	app.Post("/api/orders/:id/cancel", orderHandler.CancelOrder)

	// Coupon routes
	app.Post("/api/coupons", couponHandler.CreateCoupon)
	app.Get("/api/coupons/:id", couponHandler.GetCoupon)
	app.Post("/api/coupons/issue", couponHandler.IssueCoupon)
	app.Post("/api/coupons/issue/sync", couponHandler.IssueCouponSync)
	app.Get("/api/coupons/requests/:request_id", couponHandler.IssueStatus)

	// Operator routes for the failed-compensation dead letters
	app.Get("/api/admin/compensations", compensationHandler.ListPending)
	app.Post("/api/admin/compensations/:id/resolve", compensationHandler.Resolve)

	// Start server with graceful shutdown
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Stop taking new requests first
	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	// Then stop the workers. Uncommitted queue records are redelivered by
	// the broker on restart; PENDING outbox rows survive in the table.
	log.Info().Msg("stopping background workers...")
	stopWorkers()
	queueConsumer.Close()
	eventConsumer.Close()
	wg.Wait()

	queueProducer.Close()
	eventProducer.Close()

	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("error closing redis client")
	}

	log.Info().Msg("closing database connections...")
	pool.Close()
	log.Info().Msg("server stopped")
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		// Human-readable output for development
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
