package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/escaperoom/server/api/rest"
	"github.com/kasuganosora/escaperoom/server/api/sse"
	"github.com/kasuganosora/escaperoom/server/api/ws"
	"github.com/kasuganosora/escaperoom/server/audit"
	"github.com/kasuganosora/escaperoom/server/cache"
	"github.com/kasuganosora/escaperoom/server/config"
	dbadapter "github.com/kasuganosora/escaperoom/server/db"
	"github.com/kasuganosora/escaperoom/server/game/arbiter"
	"github.com/kasuganosora/escaperoom/server/game/catalog"
	"github.com/kasuganosora/escaperoom/server/game/lifecycle"
	"github.com/kasuganosora/escaperoom/server/game/mailbox"
	"github.com/kasuganosora/escaperoom/server/game/rules"
	mw "github.com/kasuganosora/escaperoom/server/middleware"
	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/monitor"
	"github.com/kasuganosora/escaperoom/server/scheduler"
	"github.com/kasuganosora/escaperoom/server/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Server.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil || cfg.Log.File == "" {
		return logger, err
	}

	rotated := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	})
	level := zapcore.InfoLevel
	if cfg.Server.Debug {
		level = zapcore.DebugLevel
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), rotated, level)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		logger.Warn("security.jwt_secret is not set; tokens are signed with an empty key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database, dbadapter.WithLogger(logger))
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	backend, err := cache.Open(cfg.Cache)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	defer backend.Close()
	c, pubsub := backend.KV, backend.Bus
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	metrics := monitor.NewMetrics("gamemaster")

	// ---- Game Systems ----
	games := lifecycle.NewService(db, pubsub, auditSvc, cfg.Game.DefaultDurationMs, logger)
	clock := lifecycle.NewClock(games, c, sched, cfg.Game.ClockTick, logger).WithMetrics(metrics)
	clock.Start()

	mb := mailbox.New(db, pubsub, logger)
	engine := arbiter.New(db, mb, auditSvc, metrics, arbiter.Options{
		Lockout: rules.LockoutPolicy{
			MaxAttempts: cfg.Arbiter.MaxLoginAttempts,
			LockFor:     cfg.Arbiter.LockoutDuration,
		},
		AutoApproveGold: cfg.Arbiter.AutoApproveGold,
	}, logger)
	supervisor := arbiter.NewSupervisor(engine, sched, cfg.Arbiter.SyncInterval)
	supervisor.Start(ctx)
	defer supervisor.Stop()

	cat := catalog.New(db, auditSvc, logger)
	files, err := storage.NewLocal(cfg.Storage.Dir, cfg.Storage.PublicURL, cfg.Storage.MaxBytes)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger), metrics.Middleware())
	r.Use(mw.RateLimit(ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst, mw.ByClient))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", mw.IPWhitelist(cfg.Server.AdminIPs), gin.WrapH(metrics.Handler()))
	r.Static(cfg.Storage.PublicURL, files.Dir())

	// ---- REST API routes ----
	groups := rest.Mount(r.Group("/api"), rest.Handlers{
		Auth:     rest.NewAuthHandler(db, c, cfg.Security, logger),
		Games:    rest.NewGameHandler(games, logger),
		Catalog:  rest.NewCatalogHandler(cat, files, logger),
		Requests: rest.NewRequestHandler(engine, mb, logger),
		Players:  rest.NewPlayerHandler(cat, logger),
		Actions:  rest.NewActionHandler(auditSvc, logger),
	}, mw.Auth(cfg.Security, c), mw.IPWhitelist(cfg.Server.AdminIPs))

	// ---- SSE ----
	sseH := sse.NewHandler(mb, pubsub, cfg.Security.AllowedOrigins, logger)
	groups.Admin.GET("/admin/stream", sseH.AdminStream)
	groups.Player.GET("/stream", sseH.PlayerStream)

	// ---- WebSocket ----
	wsH := ws.NewHandler(engine, mb, pubsub, cfg.Security.AllowedOrigins, logger)
	groups.Player.GET("/ws", wsH.ServeWS)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end when the process is signalled.
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	clock.Stop()
}
