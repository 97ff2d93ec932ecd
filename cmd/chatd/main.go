// Package main is the entry point for the chat sync API server.
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
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-sync/internal/config"
	"github.com/capitalize-ai/chat-sync/internal/directory"
	"github.com/capitalize-ai/chat-sync/internal/handler"
	"github.com/capitalize-ai/chat-sync/internal/llm"
	"github.com/capitalize-ai/chat-sync/internal/middleware"
	"github.com/capitalize-ai/chat-sync/internal/natsconn"
	"github.com/capitalize-ai/chat-sync/internal/pipeline"
	"github.com/capitalize-ai/chat-sync/internal/responder"
	"github.com/capitalize-ai/chat-sync/internal/store"
	"github.com/capitalize-ai/chat-sync/internal/timeline"
	"github.com/capitalize-ai/chat-sync/pkg/logger"
	"github.com/capitalize-ai/chat-sync/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat sync server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-sync", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Pick the store: JetStream when NATS is configured, in-memory otherwise.
	var (
		st      store.Store
		checker handler.ReadyChecker
	)
	if cfg.NATSURL != "" {
		natsClient, err := natsconn.Connect(natsconn.Config{
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

		natsStore, err := store.NewNATSStore(ctx, natsClient, log)
		if err != nil {
			log.Error("failed to initialize NATS store", zap.Error(err))
			os.Exit(1)
		}
		st = natsStore
		checker = natsClient
		log.Info("using NATS JetStream store", zap.String("url", cfg.NATSURL))
	} else {
		st = store.NewMemoryStore()
		log.Info("using in-memory store")
	}

	resp, err := buildResponder(cfg, log)
	if err != nil {
		log.Error("failed to initialize responder", zap.Error(err))
		os.Exit(1)
	}

	merger := timeline.NewMerger(st, log)
	pipe := pipeline.New(st, resp, pipeline.Config{
		Sentinels: cfg.ResponderSentinels,
	}, log)
	dir := directory.New(st, log)

	healthHandler := handler.NewHealthHandler(checker)
	conversationHandler := handler.NewConversationHandler(dir, st, log)
	messageHandler := handler.NewMessageHandler(st, pipe, log)
	streamHandler := handler.NewStreamHandler(st, merger, pipe, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Put("/", conversationHandler.Update)
				r.Delete("/", conversationHandler.Delete)

				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)

				r.Get("/stream", streamHandler.Stream)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// buildResponder picks the automated responder: an explicit webhook wins,
// then Anthropic, then OpenAI.
func buildResponder(cfg *config.Config, log *logger.Logger) (responder.Responder, error) {
	if cfg.ResponderWebhookURL != "" {
		log.Info("using webhook responder", zap.String("url", cfg.ResponderWebhookURL))
		return responder.NewWebhookResponder(cfg.ResponderWebhookURL, cfg.ResponderCallTimeout), nil
	}

	var (
		client llm.Client
		err    error
	)
	switch {
	case cfg.AnthropicAPIKey != "":
		client, err = llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		client, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
	default:
		return nil, fmt.Errorf("no responder configured: set RESPONDER_WEBHOOK_URL, ANTHROPIC_API_KEY, or OPENAI_API_KEY")
	}
	if err != nil {
		return nil, err
	}

	log.Info("using LLM responder", zap.String("provider", client.Name()))
	return responder.NewLLMResponder(client, cfg.ResponderModel, cfg.ResponderSystem, log), nil
}
