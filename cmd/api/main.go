// Package main is the entry point for the pipeline API server.
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

	"github.com/dermolink/chat-pipeline/internal/config"
	"github.com/dermolink/chat-pipeline/internal/confirm"
	"github.com/dermolink/chat-pipeline/internal/dispatch"
	"github.com/dermolink/chat-pipeline/internal/events"
	"github.com/dermolink/chat-pipeline/internal/gateway"
	"github.com/dermolink/chat-pipeline/internal/handler"
	"github.com/dermolink/chat-pipeline/internal/llm"
	"github.com/dermolink/chat-pipeline/internal/lock"
	"github.com/dermolink/chat-pipeline/internal/middleware"
	"github.com/dermolink/chat-pipeline/internal/store"
	"github.com/dermolink/chat-pipeline/internal/supervisor"
	"github.com/dermolink/chat-pipeline/pkg/logger"
	"github.com/dermolink/chat-pipeline/pkg/tracing"
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

	log.Info("starting pipeline API server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-pipeline", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Generation collaborator
	genClient, err := buildGenerator(cfg)
	if err != nil {
		log.Warn("no generation provider configured, using mock", zap.Error(err))
		genClient = llm.NewMock()
	}
	log.Info("generation provider ready", zap.String("provider", genClient.Name()))

	// Event publishing (optional)
	var pub events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		natsPub, err := events.ConnectNATS(cfg.NATSURL, cfg.NATSToken, log)
		if err != nil {
			log.Warn("failed to connect to NATS, events disabled", zap.Error(err))
		} else {
			pub = natsPub
			defer natsPub.Close()
		}
	}

	// External gateway (optional)
	var gw gateway.Gateway = gateway.Noop{}
	if cfg.GatewayAPIURL != "" {
		gw = gateway.NewHTTPGateway(cfg.GatewayAPIURL, cfg.GatewayAPIToken)
	}

	// Core pipeline
	st := store.NewMemory()
	// Lock expiry covers the worst case of a wedged worker: the full
	// processing deadline plus a sweep interval of slack.
	locks := lock.NewManager(cfg.ProcessingDeadline + 2*cfg.SweepInterval)
	gate := confirm.NewGate(confirm.KeywordTrigger(), cfg.ConfirmationTTL)

	dispatcher := dispatch.New(st, locks, genClient, gate, gw, pub, log, dispatch.Config{
		Workers:           cfg.Workers,
		MaxRetries:        cfg.MaxRetries,
		BackoffBase:       cfg.RetryBackoffBase,
		BackoffCap:        cfg.RetryBackoffCap,
		GenerationTimeout: cfg.GenerationTimeout,
	})
	dispatcher.Start(ctx)

	sup := supervisor.New(st, gate, dispatcher, pub, log, cfg.SweepInterval, cfg.ProcessingDeadline)
	go sup.Run(ctx)

	// Handlers
	healthHandler := handler.NewHealthHandler()
	conversationHandler := handler.NewConversationHandler(st, dispatcher, log)
	syncHandler := handler.NewSyncHandler(st, dispatcher, gate, log)
	webhookHandler := handler.NewWebhookHandler(st, dispatcher, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// Gateway webhook: authenticated at the gateway edge, not with
	// delegate JWTs.
	r.Post("/webhooks/gateway", webhookHandler.Inbound)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Post("/close", conversationHandler.Close)

				r.Get("/messages", syncHandler.Poll)
				r.Post("/messages", syncHandler.Submit)
				r.Post("/confirm", syncHandler.Confirm)
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
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	dispatcher.Wait()
	log.Info("server stopped")
}

func buildGenerator(cfg *config.Config) (llm.Client, error) {
	provider := llm.Provider(cfg.LLMProvider)
	apiKey := cfg.OpenAIAPIKey
	if provider == llm.ProviderAnthropic {
		apiKey = cfg.AnthropicAPIKey
	}
	return llm.NewClient(provider, apiKey, cfg.LLMModel, cfg.SystemPrompt)
}
