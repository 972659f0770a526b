package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lukesavage/convohub/internal/auth"
	"github.com/lukesavage/convohub/internal/chat"
	"github.com/lukesavage/convohub/internal/config"
	"github.com/lukesavage/convohub/internal/db"
	httpx "github.com/lukesavage/convohub/internal/http"
	"github.com/lukesavage/convohub/internal/llm"
	"github.com/lukesavage/convohub/internal/mirrorq"
	"github.com/lukesavage/convohub/internal/observability"
	"github.com/lukesavage/convohub/internal/queue/redisclient"
	"github.com/lukesavage/convohub/internal/registry"
	mongostore "github.com/lukesavage/convohub/internal/store/mongo"
	"github.com/lukesavage/convohub/internal/store/postgres"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()

	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := observability.NewLogger(cfg.Env)

	startCtx, startCancel := config.WithTimeout(10 * time.Second)
	defer startCancel()

	// tracing is optional; only wire it when a collector is configured
	var tracerShutdown func(context.Context) error

	if cfg.OtelEndpoint != "" {
		tracerShutdown, err = observability.InitTracer(startCtx, "convohub", cfg.OtelEndpoint)

		if err != nil {
			log.Fatalf("otel init: %v", err)
		}
	}

	// primary user store

	mongoClient, err := mongostore.Connect(startCtx, cfg.MongoURI)

	if err != nil {
		log.Fatalf("primary store: %v", err)
	}

	usersRepo := mongostore.NewUsersRepo(mongoClient, cfg.MongoDB)

	if err := usersRepo.EnsureIndexes(startCtx); err != nil {
		log.Fatalf("primary store indexes: %v", err)
	}

	// secondary store + conversation log

	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Fatalf("secondary store: %v", err)
	}

	if err := postgres.EnsureSchema(startCtx, pool); err != nil {
		log.Fatalf("secondary store schema: %v", err)
	}

	mirrorRepo := postgres.NewMirrorUsersRepo(pool)
	turnsRepo := postgres.NewTurnsRepo(pool)

	// mirror retry queue

	redisClient := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := redisClient.Ping(startCtx); err != nil {
		// registration still works without the retry queue; failed mirror
		// writes just stay log-only until redis is back
		logger.Warn("redis unreachable, mirror retries degraded", "err", err)
	}

	queue := mirrorq.NewQueue(redisClient.Raw())

	// metrics

	promReg := prometheus.NewRegistry()
	prom := observability.NewProm(promReg)

	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL)

	completionClient := llm.New(llm.Config{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Timeout: cfg.LLMTimeout,
	})
	completionClient.Observer = prom

	coordinator := registry.NewCoordinator(usersRepo, mirrorRepo, jwtManager, queue, logger, prom)
	assembler := chat.NewAssembler(usersRepo, turnsRepo, completionClient, logger)

	router := httpx.NewRouter(httpx.Deps{
		Cfg:       cfg,
		Log:       logger,
		JWT:       jwtManager,
		Registry:  coordinator,
		Assembler: assembler,
		Prom:      prom,
		PromReg:   promReg,
		Pings: map[string]func() error{
			"mongo": func() error {
				ctx, cancel := config.WithTimeout(1 * time.Second)
				defer cancel()
				return mongoClient.Ping(ctx, nil)
			},
			"postgres": func() error {
				ctx, cancel := config.WithTimeout(1 * time.Second)
				defer cancel()
				return pool.Ping(ctx)
			},
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second, // completion calls can be slow
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)

		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", "err", err)
		}

		pool.Close()
		_ = redisClient.Close()
		_ = mongoClient.Disconnect(ctx)

		if tracerShutdown != nil {
			_ = tracerShutdown(ctx)
		}
	}()

	select {
	case <-shutdownCh:
		logger.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		logger.Error("shutdown timed out")
	}
}
