package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trogers1052/portfolio-tracker/internal/alerts"
	"github.com/trogers1052/portfolio-tracker/internal/api"
	"github.com/trogers1052/portfolio-tracker/internal/cache"
	"github.com/trogers1052/portfolio-tracker/internal/config"
	"github.com/trogers1052/portfolio-tracker/internal/database"
	"github.com/trogers1052/portfolio-tracker/internal/jobs"
	"github.com/trogers1052/portfolio-tracker/internal/kafka"
	"github.com/trogers1052/portfolio-tracker/internal/logging"
	"github.com/trogers1052/portfolio-tracker/internal/market"
	"github.com/trogers1052/portfolio-tracker/internal/notify"
	"github.com/trogers1052/portfolio-tracker/internal/portfolio"
	"github.com/trogers1052/portfolio-tracker/internal/realtime"
	"github.com/trogers1052/portfolio-tracker/internal/redis"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger, err := logging.New(cfg.Log.Level, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Connect to database
	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL database")

	// Run migrations
	applied, err := db.Migrate(cfg.Database.MigrationsPath)
	if err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}
	if applied {
		logger.Info("Database migrations applied")
	} else {
		logger.Info("No migrations to apply; database is up to date")
	}

	// Connect to Redis; quotes fall back to an in-process cache without it
	var (
		redisClient *redis.Client
		cacheStore  cache.Store = cache.NewMemory()
		quoteCache  portfolio.QuoteCache
		redisHealth api.Pinger
	)
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(cfg.Redis)
		if err != nil {
			logger.Warn("Failed to connect to Redis, continuing with in-memory cache", zap.Error(err))
		} else {
			defer redisClient.Close()
			cacheStore = redisClient
			quoteCache = redisClient
			redisHealth = redisClient
			logger.Info("Connected to Redis cache", zap.String("addr", cfg.Redis.Address()))
		}
	}

	resolver := cache.NewResolver(cacheStore, map[cache.Class]time.Duration{
		cache.ClassQuote:     cfg.Market.QuoteTTL,
		cache.ClassHistory:   cfg.Market.HistoryTTL,
		cache.ClassReference: cfg.Market.ReferenceTTL,
	}, logger)
	defer resolver.Wait()

	marketClient := market.NewClient(cfg.Market, resolver, logger)

	portfolios := portfolio.NewService(db, marketClient, quoteCache, portfolio.Config{
		RiskFreeRate: cfg.Market.RiskFreeRate,
		Benchmark:    cfg.Market.Benchmark,
		HistoryDays:  cfg.Market.HistoryDays,
		QuoteTTL:     cfg.Market.QuoteTTL,
	}, logger)

	// Alert fan-out
	hub := realtime.NewHub(logger)
	defer hub.Close()

	notifier := notify.NewMulti(logger)
	notifier.Add("websocket", hub)
	if redisClient != nil {
		notifier.Add("redis", redisClient)
	}
	var producer *kafka.AlertProducer
	if cfg.Kafka.Enabled {
		producer = kafka.NewAlertProducer(cfg.Kafka.Brokers, cfg.Kafka.AlertsTopic)
		defer producer.Close()
		notifier.Add("kafka", producer)
		logger.Info("Kafka alert producer initialized",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.AlertsTopic))
	}
	if cfg.Email.EmailEnabled() {
		notifier.Add("email", notify.NewEmail(
			cfg.Email.SendGridAPIKey,
			cfg.Email.FromAddress,
			cfg.Email.FromName,
			cfg.Email.ToAddress,
		))
		logger.Info("Email alerts enabled", zap.String("to", cfg.Email.ToAddress))
	}

	alertService := alerts.NewService(db, db, notifier, logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Kafka consumers for live ticks and position snapshots
	var (
		tickConsumer      *kafka.PriceTickConsumer
		positionsConsumer *kafka.PositionsConsumer
	)
	if cfg.Kafka.Enabled {
		tickConsumer = kafka.NewPriceTickConsumer(
			cfg.Kafka.Brokers,
			cfg.Kafka.TicksTopic,
			cfg.Kafka.ConsumerGroup,
			alertService,
			logger,
		)
		go func() {
			logger.Info("Starting Kafka tick consumer",
				zap.String("topic", cfg.Kafka.TicksTopic),
				zap.String("group", cfg.Kafka.ConsumerGroup+"-ticks"))
			if err := tickConsumer.Start(ctx); err != nil {
				logger.Error("Kafka tick consumer stopped", zap.Error(err))
			}
		}()

		positionsConsumer = kafka.NewPositionsConsumer(
			cfg.Kafka.Brokers,
			cfg.Kafka.PositionsTopic,
			cfg.Kafka.ConsumerGroup,
			portfolios,
			logger,
		)
		go func() {
			logger.Info("Starting Kafka positions consumer",
				zap.String("topic", cfg.Kafka.PositionsTopic),
				zap.String("group", cfg.Kafka.ConsumerGroup+"-positions"))
			if err := positionsConsumer.Start(ctx); err != nil {
				logger.Error("Kafka positions consumer stopped", zap.Error(err))
			}
		}()
	}

	// Scheduled polling covers symbols that have no tick feed
	var poller *jobs.PricePoller
	if cfg.Alerts.PollEnabled {
		poller = jobs.NewPricePoller(alertService, portfolios, alertService, cfg.Alerts.PollSchedule, logger)
		if err := poller.Start(); err != nil {
			logger.Fatal("Failed to start price poller", zap.Error(err))
		}
	}

	// Set up HTTP handler and routes
	handler := api.NewHandler(portfolios, alertService, api.Health{
		Postgres:     db,
		Redis:        redisHealth,
		KafkaEnabled: cfg.Kafka.Enabled,
	}, logger)
	router := api.SetupRoutes(handler, http.HandlerFunc(hub.ServeWS))

	// Create HTTP server
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	// Stop background work before draining HTTP
	cancel()
	if poller != nil {
		poller.Stop()
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Close Kafka consumers
	if tickConsumer != nil {
		if err := tickConsumer.Close(); err != nil {
			logger.Warn("Error closing Kafka tick consumer", zap.Error(err))
		}
	}
	if positionsConsumer != nil {
		if err := positionsConsumer.Close(); err != nil {
			logger.Warn("Error closing Kafka positions consumer", zap.Error(err))
		}
	}

	logger.Info("Server stopped")
}
