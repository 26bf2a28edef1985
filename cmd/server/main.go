package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/astroconnect/call-billing-go/internal/config"
	"github.com/astroconnect/call-billing-go/internal/database"
	"github.com/astroconnect/call-billing-go/internal/handler"
	"github.com/astroconnect/call-billing-go/internal/jobs"
	"github.com/astroconnect/call-billing-go/internal/middleware"
	"github.com/astroconnect/call-billing-go/internal/redis"
	"github.com/astroconnect/call-billing-go/internal/repository"
	"github.com/astroconnect/call-billing-go/internal/service"
	"github.com/astroconnect/call-billing-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	callRepo := repository.NewCallRepository(db.DB)
	billingRepo := repository.NewBillingRepository(db.DB)
	walletRepo := repository.NewWalletRepository(db.DB)
	rateRepo := repository.NewRateRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	walletService := service.NewWalletService(db, walletRepo)
	callService := service.NewCallStateService(callRepo, broker)
	billingService := service.NewBillingService(billingRepo, callService, walletService, broker)
	orchestrator := service.NewOrchestrator(rateRepo, billingRepo, billingService, walletService, cfg.MinCallMinutes)
	ingestionService := service.NewIngestionService(callRepo, callService, billingService, config.CorrelationLookback)

	rateLimiter := service.NewRateLimiter(redisClient.Client)
	apiRateLimit := middleware.NewIPRateLimitMiddleware(rateLimiter, cfg.APIRatePerMin, time.Minute, "api")
	webhookRateLimit := middleware.NewIPRateLimitMiddleware(rateLimiter, cfg.WebhookRatePerMin, time.Minute, "webhook")
	signatureMiddleware := middleware.NewGatewaySignatureMiddleware(cfg.GatewaySecret)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	billingHandler := handler.NewBillingHandler(orchestrator, walletService)
	callsHandler := handler.NewCallsHandler(callService, orchestrator)
	webhookHandler := handler.NewWebhookHandler(ingestionService)
	eventsHandler := handler.NewEventsHandler(broker, callService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(apiRateLimit.Handler)
		r.Post("/billing", billingHandler.Handle)
		r.Post("/wallet", billingHandler.HandleWallet)
		r.Post("/calls", callsHandler.Handle)
		r.Get("/calls/{callID}/events", eventsHandler.ServeHTTP)
	})

	r.Route("/gateway", func(r chi.Router) {
		r.Use(webhookRateLimit.Handler)
		r.Use(signatureMiddleware.Handler)
		r.Post("/webhook", webhookHandler.Webhook)
	})

	sweepJob := jobs.NewSweepJob(
		callRepo, callService, billingService,
		cfg.PendingTimeout(), cfg.ConnectTimeout(), cfg.SweepInterval(),
	)
	sweepJob.Start()
	defer sweepJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
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
