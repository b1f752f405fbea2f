// Package main runs the background worker: the stale-session sweeper and the
// concurrency sampler on schedules, plus the engagement rollup queue consumer.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inev/engage/config"
	"github.com/inev/engage/internal/events"
	"github.com/inev/engage/internal/metrics"
	"github.com/inev/engage/internal/presence"
	"github.com/inev/engage/internal/sessions"
	"github.com/inev/engage/internal/stats"
	"github.com/inev/engage/internal/worker"
	"github.com/inev/engage/pkg/database"
	"github.com/inev/engage/pkg/lease"
	"github.com/inev/engage/pkg/queue"
	"github.com/inev/engage/pkg/redis"
	"github.com/inev/engage/pkg/scheduler"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New()
	jobQueue := queue.NewQueue(rdb.Client, logger)
	leases := lease.New(rdb.Client)

	eventRepo := events.NewRepository(pool)
	sessionRepo := sessions.NewRepository(pool)
	presenceRepo := presence.NewRepository(pool)
	statsRepo := stats.NewRepository(pool)

	tracker := presence.NewTracker(presenceRepo, cfg.Engine.ActiveWindow)
	sweeper := sessions.NewSweeper(sessionRepo, jobQueue, m, logger, cfg.Engine.StaleAfter)
	sampler := stats.NewSampler(statsRepo, tracker, eventRepo, cfg.Engine.BucketWidth, m, logger)

	rollupRepo := worker.NewRepository(pool)
	processor := worker.NewEngagementProcessor(rollupRepo, jobQueue, m, logger)

	// Leased so only one worker instance runs each tick; the jobs are
	// idempotent either way.
	sched := scheduler.New(logger)
	sched.Register(scheduler.Task{
		Name:     "session-sweep",
		Interval: cfg.Engine.SweepInterval,
		Run: leased(leases, "session-sweep", cfg.Engine.SweepInterval, func(ctx context.Context) error {
			_, err := sweeper.Sweep(ctx)
			return err
		}),
	})
	sched.Register(scheduler.Task{
		Name:     "concurrency-sample",
		Interval: cfg.Engine.SampleInterval,
		Run: leased(leases, "concurrency-sample", cfg.Engine.SampleInterval, func(ctx context.Context) error {
			_, err := sampler.Sample(ctx)
			return err
		}),
	})

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(workerCtx)
	go processor.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	sched.Wait()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

// leased wraps a task so a tick is skipped when another instance holds the
// lease. The lease TTL matches the interval; it is released early on success
// so a crashed holder only delays one tick.
func leased(l *lease.Lease, name string, ttl time.Duration, run func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ok, err := l.TryAcquire(ctx, name, ttl)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		defer l.Release(ctx, name)
		return run(ctx)
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
