package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lukesavage/convohub/internal/config"
	"github.com/lukesavage/convohub/internal/db"
	"github.com/lukesavage/convohub/internal/mirrorq"
	"github.com/lukesavage/convohub/internal/observability"
	"github.com/lukesavage/convohub/internal/queue/redisclient"
	"github.com/lukesavage/convohub/internal/store/postgres"
	"github.com/prometheus/client_golang/prometheus"
)

type workerMetrics struct {
	prom *observability.Prom
}

func (m workerMetrics) RetryResult(result string) {
	m.prom.MirrorRetryResults.WithLabelValues(result).Inc()
}

func (m workerMetrics) QueueDepth(depth int64) {
	m.prom.MirrorQueueDepth.Set(float64(depth))
}

func main() {
	cfg, err := config.Load()

	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}

	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("schema: %v", err)
	}

	redisClient := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	defer redisClient.Close()

	if err := redisClient.Ping(ctx); err != nil {
		log.Fatalf("redis connect failed: %v", err)
	}

	promReg := prometheus.NewRegistry()
	prom := observability.NewProm(promReg)

	w := mirrorq.NewWorker(mirrorq.WorkerConfig{
		PollTimeout: 2 * time.Second,
		MaxAttempts: 8,
	},
		mirrorq.NewQueue(redisClient.Raw()),
		postgres.NewMirrorUsersRepo(pool),
		logger,
		workerMetrics{prom: prom},
	)

	logger.Info("reconciler started")

	if err := w.Run(ctx); err != nil {
		logger.Error("reconciler stopped with error", "err", err)
	}

	logger.Info("reconciler shutdown complete")
}
