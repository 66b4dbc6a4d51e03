package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/concretepros/directory-api/internal/auth"
	"github.com/concretepros/directory-api/internal/client"
	"github.com/concretepros/directory-api/internal/config"
	"github.com/concretepros/directory-api/internal/events"
	"github.com/concretepros/directory-api/internal/handler"
	"github.com/concretepros/directory-api/internal/logging"
	"github.com/concretepros/directory-api/internal/middleware"
	"github.com/concretepros/directory-api/internal/repository"
	"github.com/concretepros/directory-api/internal/server"
	"github.com/concretepros/directory-api/internal/service"
	"github.com/concretepros/directory-api/internal/store"
	"github.com/concretepros/directory-api/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not available")
	}

	pool, err := repository.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	if err := repository.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	hub := events.NewHub()
	go hub.Run(ctx)

	// With a shared store, events go through Redis so every API process sees
	// them, this one included. The memory store is single-process.
	var (
		jobStore  store.JobStore
		publisher events.Publisher = hub
	)
	switch cfg.Storage.Driver {
	case "memory":
		log.Info().Msg("using in-memory job store")
		jobStore = store.NewMemoryJobStore()
	default:
		jobStore = store.NewRedisJobStore(redisClient, cfg.Jobs.Retention)
		relay := events.NewRedisRelay(redisClient)
		go relay.Forward(ctx, hub)
		publisher = relay
	}

	payloads, err := service.NewPayloadValidator()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to compile payload schemas")
	}

	contractors := repository.NewContractorRepository(pool)
	locations := repository.NewLocationRepository(pool)

	jobService := service.NewJobService(jobStore, asynqClient, publisher, payloads, service.JobServiceConfig{
		Queue:       cfg.Jobs.Queue,
		MaxAttempts: cfg.Jobs.MaxAttempts,
	})
	directoryService := service.NewDirectoryService(contractors, locations)
	claimService := service.NewClaimService(repository.NewClaimRepository(pool), contractors)
	pageService := service.NewPageService(repository.NewPageRepository(pool))

	validate := validator.New()
	h := server.Handlers{
		Jobs:    handler.NewJobHandler(jobService, validate),
		Streams: handler.NewStreamHandler(jobService, hub, cfg.Jobs.StreamHeartbeat),
		Public:  handler.NewPublicHandler(directoryService, validate),
		Claims:  handler.NewClaimHandler(claimService, validate),
		Pages:   handler.NewPageHandler(pageService, validate),
	}

	// Provider tokens when an issuer is configured, legacy HMAC tokens otherwise or as fallback
	var verifier auth.TokenVerifier
	if cfg.Auth.Issuer != "" {
		jwks, err := auth.NewJWKSVerifier(ctx, &cfg.Auth)
		if err != nil {
			log.Warn().Err(err).Msg("JWKS verifier not initialized")
		} else {
			verifier = jwks
		}
	}
	var authMiddleware *middleware.AuthMiddleware
	switch {
	case cfg.Auth.GatewayMode:
		log.Info().Msg("gateway mode enabled, trusting X-User-* headers")
		authMiddleware = middleware.NewGatewayAuthMiddleware()
	case verifier == nil && cfg.JWT.Secret == "":
		log.Warn().Msg("no token verifier configured, admin routes will reject every request")
		fallthrough
	default:
		authMiddleware = middleware.NewAuthMiddleware(verifier, cfg.JWT.Secret)
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := server.NewApp(server.Options{
		CORSOrigin:    cfg.Server.CORSOrigin,
		AccessLog:     cfg.Server.Env != "production",
		JobsPerHour:   cfg.RateLimit.JobsPerHour,
		ClaimsPerHour: cfg.RateLimit.ClaimsPerHour,
		Health:        healthCheck(redisClient, pool, cfg.Auth.GatewayMode || verifier != nil || cfg.JWT.Secret != ""),
	}, h, authMiddleware, rateLimiter)

	var workerServer *asynq.Server
	if cfg.Jobs.RunWorker {
		workerServer = startWorkerServer(ctx, cfg, redisOpt, jobService, contractors)
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down server")
		if workerServer != nil {
			workerServer.Shutdown()
		}
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Str("env", cfg.Server.Env).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func startWorkerServer(ctx context.Context, cfg *config.Config, redisOpt asynq.RedisClientOpt, jobs *service.JobService, contractors *repository.ContractorRepository) *asynq.Server {
	var places client.PlacesProvider
	if pc := client.NewPlacesClient(&cfg.Places); pc.IsConfigured() {
		places = pc
	} else {
		log.Info().Msg("places API not configured, using mock provider")
	}

	var images client.ImageStore
	if r2, err := client.NewR2Client(ctx, &cfg.R2); err == nil {
		images = r2
	} else {
		log.Info().Err(err).Msg("R2 storage not configured, using mock storage")
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Jobs.Concurrency,
		Queues:      map[string]int{cfg.Jobs.Queue: 1},
		Logger:      logging.AsynqLogger{},
		LogLevel:    logging.AsynqLevel(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Warn().Err(err).Str("task", task.Type()).Int("retry", retried).Int("max_retry", maxRetry).Msg("task failed")
		}),
	})

	mux := asynq.NewServeMux()
	worker.NewEnrichmentWorker(jobs, contractors, places, images).Register(mux)

	if err := srv.Start(mux); err != nil {
		log.Fatal().Err(err).Msg("failed to start asynq worker")
	}
	log.Info().Str("queue", cfg.Jobs.Queue).Int("concurrency", cfg.Jobs.Concurrency).Msg("worker started")
	return srv
}

func healthCheck(redisClient *redis.Client, pool *pgxpool.Pool, authConfigured bool) func() fiber.Map {
	return func() fiber.Map {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return fiber.Map{
			"redis":    redisClient.Ping(ctx).Err() == nil,
			"database": pool.Ping(ctx) == nil,
			"auth":     authConfigured,
		}
	}
}
