// Command edustream runs the eduStream chat backend: an HTTP API for
// conversation management plus WebSocket endpoints for streaming chat
// turns and task status events.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	cfhttp "github.com/tangmingchang/edustream/internal/adapter/http"
	"github.com/tangmingchang/edustream/internal/adapter/llmproxy"
	"github.com/tangmingchang/edustream/internal/adapter/nats"
	"github.com/tangmingchang/edustream/internal/adapter/otel"
	"github.com/tangmingchang/edustream/internal/adapter/postgres"
	"github.com/tangmingchang/edustream/internal/adapter/ristretto"
	"github.com/tangmingchang/edustream/internal/adapter/ws"
	"github.com/tangmingchang/edustream/internal/config"
	"github.com/tangmingchang/edustream/internal/logger"
	"github.com/tangmingchang/edustream/internal/middleware"
	"github.com/tangmingchang/edustream/internal/port/llm"
	"github.com/tangmingchang/edustream/internal/resilience"
	"github.com/tangmingchang/edustream/internal/secrets"
	"github.com/tangmingchang/edustream/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", config.DefaultConfigFile, "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, logClose := logger.New(cfg.Logging)
	defer logClose.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := otel.Init(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(sctx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	queue, err := nats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer queue.Close()

	historyCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	defer historyCache.Close()

	var provider llm.Provider
	var breaker *resilience.Breaker
	if cfg.LLM.URL == "" {
		log.Info("no llm url configured, using mock provider")
		provider = &llmproxy.Mock{}
	} else {
		client := llmproxy.NewClient(cfg.LLM.URL, cfg.LLM.APIKey, cfg.LLM.Model)
		breaker = resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		client.SetBreaker(breaker)

		// The API key is re-read from the vault per request, so a rotated
		// key takes effect on SIGHUP without a restart.
		vault, err := secrets.NewVault(secrets.EnvLoader("LLM_API_KEY"))
		if err != nil {
			return fmt.Errorf("load secrets: %w", err)
		}
		client.SetKeySource(func() string { return vault.Get("LLM_API_KEY") })
		client.SetRedactor(vault.RedactString)
		log.Info("secrets loaded", "keys", vault.Keys())
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		go func() {
			for range hup {
				if err := vault.Reload(); err != nil {
					log.Warn("secret reload failed", "error", err)
					continue
				}
				log.Info("secrets reloaded", "llm_api_key", vault.Redacted("LLM_API_KEY"))
			}
		}()

		provider = client
	}

	chatSvc := service.NewChatService(store, provider, historyCache, metrics, cfg.LLM.Model, cfg.Cache.TTL)
	hub := ws.NewHub()
	taskEvents := service.NewTaskEventService(queue, hub)

	stopEvents, err := taskEvents.Start(ctx)
	if err != nil {
		return fmt.Errorf("start task event subscriber: %w", err)
	}
	defer stopEvents()

	handlers := &cfhttp.Handlers{Conversations: chatSvc}
	if breaker != nil {
		handlers.LLMBreaker = breaker
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))

	r.Handle("/ws/chat", ws.NewChatHandler(chatSvc))
	r.Get("/ws/events", hub.HandleWS)
	cfhttp.MountRoutes(r, handlers)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}
