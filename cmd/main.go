/**
 * @description
 * This is the main entry point for the bank-link-service. Its responsibility
 * is to initialize all necessary components, start the HTTP server and the
 * scheduled jobs, and shut everything down gracefully.
 *
 * Key features:
 * - Loads application configuration from environment variables.
 * - Establishes and manages a connection pool to the PostgreSQL database.
 * - Initializes clients for external services (Plaid, Stripe) and the
 *   credential vault.
 * - Wires up the core application logic with its dependencies.
 * - Starts the cron scheduler for the processor-link retry job.
 *
 * @dependencies
 * - The service's internal packages for config, app logic, storage, and
 *   external clients.
 * - pgxpool for database connections, godotenv for local config, robfig/cron
 *   for scheduling, go-redis for the optional distributed rate limiter.
 */
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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/transfa/bank-link-service/internal/api"
	"github.com/transfa/bank-link-service/internal/app"
	"github.com/transfa/bank-link-service/internal/config"
	"github.com/transfa/bank-link-service/internal/store"
	"github.com/transfa/bank-link-service/pkg/middleware"
	"github.com/transfa/bank-link-service/pkg/plaidclient"
	"github.com/transfa/bank-link-service/pkg/rabbitmq"
	"github.com/transfa/bank-link-service/pkg/stripeclient"
	"github.com/transfa/bank-link-service/pkg/vault"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	// Establish database connection pool.
	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to parse database URL: %v\n", err)
	}
	dbConfig.MaxConns = 50
	dbConfig.MinConns = 10
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers.
	dbConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), dbConfig)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer dbpool.Close()
	log.Println("Database connection established")

	// Set up dependencies.
	userRepo := store.NewPostgresUserRepository(dbpool)
	connRepo := store.NewPostgresConnectionRepository(dbpool)
	accountRepo := store.NewPostgresAccountRepository(dbpool)

	credentialVault, err := vault.New(cfg.CredentialKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}

	plaidClient := plaidclient.NewClient(cfg.PlaidAPIBaseURL, cfg.PlaidClientID, cfg.PlaidSecret)
	stripeClient := stripeclient.NewClient(cfg.StripeAPIBaseURL, cfg.StripeSecretKey)

	// Event producer is optional; the service degrades to not publishing.
	var producer *rabbitmq.EventProducer
	var publisher app.EventPublisher
	if cfg.RabbitMQURL != "" {
		producer, err = rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("Warning: failed to connect to RabbitMQ, events disabled: %v", err)
		} else {
			defer producer.Close()
			publisher = producer
		}
	}

	service := app.NewLinkService(userRepo, connRepo, accountRepo, plaidClient, stripeClient, credentialVault, publisher)
	processor := app.NewWebhookProcessor(connRepo, publisher)

	// Rate limiter: Redis when configured, else the per-process bucket map.
	var limiter middleware.RateLimiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Unable to parse Redis URL: %v", err)
		}
		limiter = middleware.NewRedisRateLimiter(redis.NewClient(opts), "bank_link:rate_limit", cfg.RateLimitPerMinute, time.Minute)
		log.Println("Using Redis rate limiter")
	} else {
		memLimiter := middleware.NewTokenBucketLimiter(cfg.RateLimitPerMinute)
		defer memLimiter.Stop()
		limiter = memLimiter
	}

	// Scheduled jobs: lazy retry of accounts linked without processor tokens.
	jobs := app.NewJobs(userRepo, connRepo, accountRepo, plaidClient, stripeClient, credentialVault,
		slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@hourly", jobs.RetryProcessorLinks); err != nil {
		log.Fatalf("Failed to schedule processor retry job: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Setup and start HTTP server.
	router := api.NewRouter(cfg, service, processor, limiter)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %s\n", err)
		}
	}()

	log.Println("Bank link service is running.")

	// Wait for termination signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down bank-link-service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("Server gracefully stopped")
}
