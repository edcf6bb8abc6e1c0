package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timeworked/timeworked/internal/config"
	"github.com/timeworked/timeworked/internal/database"
	"github.com/timeworked/timeworked/internal/handler"
	"github.com/timeworked/timeworked/internal/jobs"
	"github.com/timeworked/timeworked/internal/metrics"
	"github.com/timeworked/timeworked/internal/middleware"
	"github.com/timeworked/timeworked/internal/redis"
	"github.com/timeworked/timeworked/internal/repository"
	"github.com/timeworked/timeworked/internal/service"
	"github.com/timeworked/timeworked/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	var sessionRepo repository.SessionRepository
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		cancel()
		log.Info().Msg("database connected")

		sessionRepo = repository.NewSessionRepository(db)
	case config.StoreDriverMemory:
		sessionRepo = repository.NewMemorySessionRepository()
		log.Info().Msg("using in-memory session store")
	}

	var limiter middleware.Limiter = middleware.NewRateLimiter()
	var redisClient *redis.Client
	if cfg.UseRedis() {
		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		limiter = middleware.NewRedisRateLimiter(redisClient.Client)
	}

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	registry := metrics.NewRegistry()
	sessionMetrics := metrics.NewSessionMetrics(registry)

	sessionService := service.NewSessionService(sessionRepo, broker, sessionMetrics)

	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(limiter, cfg.RateLimitPerMin)

	healthHandler := handler.NewHealthHandler(sessionService)
	eventsHandler := handler.NewEventsHandler(broker)
	sessionHandler := handler.NewSessionHandler(sessionService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	// Event streams are long-lived and stay outside the request timeout.
	r.With(rateLimitMiddleware.Handler).Get("/api/timeworked/events", eventsHandler.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(bodyLimitMiddleware.Handler)

		r.Get("/api/health", healthHandler.Liveness)
		r.Get("/api/health/ready", healthHandler.Readiness)

		r.Route("/api/timeworked", func(r chi.Router) {
			r.Use(rateLimitMiddleware.Handler)
			r.Get("/health", healthHandler.Liveness)
			r.Mount("/", sessionHandler.Routes())
		})

		if cfg.MetricsEnabled {
			r.Handle("/metrics", metrics.Handler(registry))
		}
	})

	openSessionsJob := jobs.NewOpenSessionsJob(sessionRepo, sessionMetrics.Open, config.OpenSessionsRefreshInterval)
	openSessionsJob.Start()
	defer openSessionsJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("store", cfg.StoreDriver).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
