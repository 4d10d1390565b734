// Package main is the entry point for the survey bot server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chatform/survey-engine/internal/config"
	"github.com/chatform/survey-engine/internal/event"
	"github.com/chatform/survey-engine/internal/flow"
	"github.com/chatform/survey-engine/internal/handler"
	"github.com/chatform/survey-engine/internal/middleware"
	natsclient "github.com/chatform/survey-engine/internal/nats"
	"github.com/chatform/survey-engine/internal/platform"
	"github.com/chatform/survey-engine/internal/storage"
	"github.com/chatform/survey-engine/pkg/logger"
	"github.com/chatform/survey-engine/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting survey bot server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "survey-engine", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Survey storage: Postgres when configured, in-process memory otherwise.
	var store storage.Store
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", zap.Error(err))
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
	} else {
		log.Warn("no DATABASE_URL set, surveys are held in memory only")
		store = storage.NewMemory()
	}

	// Chat platform client
	tg, err := platform.NewTelegram(cfg.BotToken)
	if err != nil {
		log.Error("failed to create platform client", zap.Error(err))
		os.Exit(1)
	}

	// Event machinery
	registry := event.NewRegistry()
	dispatcher := event.NewDispatcher(registry, log.Logger)

	// Mirror survey events into JetStream when enabled
	var natsClient *natsclient.Client
	var eventReader handler.EventReader
	if cfg.NATSEnabled {
		natsClient, err = natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()

		mirror := natsclient.NewMirror(natsClient, log)
		if err := mirror.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		dispatcher.Subscribe(mirror)
		eventReader = mirror
	}

	// One flow manager per chat, created on first update
	sessions := flow.NewSessions(func(userID, chatID int64) (*flow.Manager, error) {
		return flow.NewManager(flow.Config{
			BotName:  cfg.BotName,
			Commands: botCommands,
			UserID:   userID,
			ChatID:   chatID,
			Store:    store,
			Client:   tg,
			Events:   dispatcher,
			Log:      log.Logger,
			Expiry:   cfg.SurveyExpiry,
		})
	})

	if err := registerFlows(dispatcher, sessions, log); err != nil {
		log.Error("failed to register flows", zap.Error(err))
		os.Exit(1)
	}

	// Publish the command menu
	commands := make([]platform.BotCommand, 0, len(botCommands))
	for _, c := range botCommands {
		commands = append(commands, platform.BotCommand{
			Command:     c.Name,
			Description: c.DisplayLabel(),
		})
	}
	if err := tg.SetCommands(ctx, commands); err != nil {
		log.Warn("failed to publish command menu", zap.Error(err))
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient, cfg.NATSEnabled)
	webhookHandler := handler.NewWebhookHandler(sessions, cfg.WebhookSecret, log)
	surveyHandler := handler.NewSurveyHandler(store, cfg.SurveyExpiry, log)
	eventsHandler := handler.NewEventsHandler(eventReader, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Platform webhook
	r.Group(func(r chi.Router) {
		r.Use(middleware.WebhookRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Post("/webhook", webhookHandler.Receive)
	})

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/events", eventsHandler.List)
			r.Route("/surveys", func(r chi.Router) {
				r.Get("/current", surveyHandler.Current)
				r.Get("/latest", surveyHandler.Latest)
				r.Post("/current/cancel", surveyHandler.Cancel)
				r.Post("/current/complete", surveyHandler.Complete)
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
