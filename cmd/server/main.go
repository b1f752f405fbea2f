// Package main runs the engagement engine HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inev/engage/config"
	"github.com/inev/engage/internal/auth"
	"github.com/inev/engage/internal/events"
	"github.com/inev/engage/internal/metrics"
	"github.com/inev/engage/internal/middleware"
	"github.com/inev/engage/internal/presence"
	"github.com/inev/engage/internal/realtime"
	"github.com/inev/engage/internal/sessions"
	"github.com/inev/engage/internal/stats"
	"github.com/inev/engage/internal/visits"
	"github.com/inev/engage/pkg/database"
	"github.com/inev/engage/pkg/queue"
	"github.com/inev/engage/pkg/redis"
	"github.com/inev/engage/pkg/response"
	"github.com/inev/engage/pkg/storage"
)

// feedInterval is how often the websocket feed polls audience counts.
const feedInterval = 5 * time.Second

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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.ExportsBucket != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 exports disabled", zap.Error(err))
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New()
	if err := m.Register(registry); err != nil {
		logger.Fatal("register metrics", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret)
	gate := auth.NewRoleGate()
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Events (read-only; owned by the management product)
	eventRepo := events.NewRepository(pool)

	// Visits
	visitRepo := visits.NewRepository(pool)
	visitHandler := visits.NewHandler(visitRepo)

	// Sessions
	sessionRepo := sessions.NewRepository(pool)
	sessionService := sessions.NewService(sessionRepo, visitRepo, cfg.Engine, logger)
	sweeper := sessions.NewSweeper(sessionRepo, jobQueue, m, logger, cfg.Engine.StaleAfter)
	sessionHandler := sessions.NewHandler(sessionService, sweeper, eventRepo, m, logger)

	// Presence
	presenceRepo := presence.NewRepository(pool)
	tracker := presence.NewTracker(presenceRepo, cfg.Engine.ActiveWindow)
	presenceHandler := presence.NewHandler(tracker, gate, logger)

	// Stats
	statsRepo := stats.NewRepository(pool)
	statsService := stats.NewService(statsRepo, statsRepo, tracker)
	sampler := stats.NewSampler(statsRepo, tracker, eventRepo, cfg.Engine.BucketWidth, m, logger)
	var exporter *stats.Exporter
	if s3Client != nil {
		exporter = stats.NewExporter(statsRepo, s3Client, logger)
	}
	statsHandler := stats.NewHandler(statsService, sampler, exporter, logger)

	// Live dashboard feed
	feed := realtime.NewFeed(tracker, feedInterval, logger)
	feedCtx, feedCancel := context.WithCancel(context.Background())
	defer feedCancel()
	go feed.Run(feedCtx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Viewer-facing: anonymous allowed, identity attached when a token rides
	// along.
	viewer := router.Group("")
	viewer.Use(middleware.OptionalJWT(jwtService))
	{
		viewer.POST("/events/:id/sessions/start", sessionHandler.Start)
		viewer.POST("/sessions/:id/heartbeat", sessionHandler.Heartbeat)
		viewer.POST("/sessions/:id/exit", sessionHandler.Exit)
		viewer.POST("/events/:id/visits", visitHandler.Record)
	}

	// Presence requires an identified viewer.
	pinged := router.Group("")
	pinged.Use(middleware.JWT(jwtService))
	{
		pinged.POST("/events/:id/presence/ping", presenceHandler.Ping)
	}

	// Operator statistics tier.
	operator := router.Group("")
	operator.Use(middleware.JWT(jwtService))
	operator.Use(events.RequireStatsAccess(eventRepo, gate))
	{
		operator.GET("/events/:id/stats/access", statsHandler.Access)
		operator.GET("/events/:id/stats/sessions", statsHandler.Sessions)
		operator.GET("/events/:id/stats/export", statsHandler.Export)
		operator.GET("/events/:id/audience_count", presenceHandler.AudienceCount)
	}

	// Internal triggers for external schedulers; shared secret, not viewer
	// auth.
	internal := router.Group("/internal")
	internal.Use(middleware.CronSecret(cfg.Cron.Secret))
	{
		internal.POST("/sweep", sessionHandler.SweepNow)
		internal.POST("/sample", statsHandler.SampleNow)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws/stats", feed.ServeWS(jwtService, gate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	feedCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
