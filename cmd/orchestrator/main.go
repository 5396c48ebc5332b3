package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/alerts"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/auth"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/breaker"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/client/execclient"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/client/generator"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/client/market"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/client/trainer"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	cronrunner "github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/cron"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/db"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/events"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/execution"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/handler"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/lifecycle"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/logger"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/metrics"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/notify"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/opslog"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/orchestrator"
	gormrepository "github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository/gorm"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/risk"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/safety"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/service"
)

func main() {
	cfgPath := os.Getenv("TA_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("TA_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log, cfg.App.Name)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if cfg.DB.AutoMigrate {
		if err := db.AutoMigrate(dbConn); err != nil {
			logger.Fatal("auto-migrate failed", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(ctx); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	rec := metrics.New(cfg.Metrics.Namespace)
	publisher := events.New(cfg.Kafka, logger)
	defer publisher.Close()
	opsLog := opslog.New(cfg.OpsLog, store, logger)
	if opsLog.Remote != nil {
		loginCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := opsLog.Remote.Login(loginCtx); err != nil {
			logger.Warn("ops log login failed (mirroring disabled)", zap.Error(err))
			opsLog.Remote = nil
		}
		cancel()
	}

	dispatcher := &alerts.Dispatcher{
		Repo:      store,
		Publisher: publisher,
		Notifier:  notify.NewFanout(cfg.Notify),
		Metrics:   rec,
		Logger:    logger,
	}
	guard := breaker.New(cfg.Breaker, store, dispatcher, rec, logger)

	engine := execution.NewEngine(cfg.Execution, store, execclient.New(cfg.Execution), guard, service.CredentialVaultFromEnv())
	engine.Publisher = publisher
	engine.Metrics = rec
	engine.Logger = logger

	book := market.NewPriceBook()
	prices := &orchestrator.Prices{
		Book:     book,
		MaxStale: cfg.Paper.StreamMaxStale,
	}
	if cfg.Paper.PriceURL != "" {
		prices.Quotes = market.NewClient(&http.Client{Timeout: cfg.Paper.PriceTimeout}, cfg.Paper.PriceURL)
	}
	if cfg.Paper.PriceWSURL != "" {
		stream := market.NewStream(market.StreamOptions{
			URL:           cfg.Paper.PriceWSURL,
			AssetProvider: activeAssets(store),
			Logger:        logger,
		}, book)
		go func() {
			if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("price stream stopped", zap.Error(err))
			}
		}()
	}
	paper := &orchestrator.PaperSettler{
		Store:     store,
		Prices:    prices,
		Publisher: publisher,
		Metrics:   rec,
		Logger:    logger,
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		}
		cancel()
	}
	hostname, _ := os.Hostname()
	holder := hostname + "/" + uuid.NewString()[:8]

	orch := &orchestrator.Orchestrator{
		Config:    cfg.Orchestrator,
		Store:     store,
		Settings:  settingsSvc,
		Generator: generator.NewClient(cfg.Orchestrator.GeneratorURL, cfg.Orchestrator.GeneratorTimeout),
		Live:      engine,
		Paper:     orchestrator.NewPaperExecutor(paper),
		Prices:    prices,
		Risk:      &risk.Manager{Config: cfg.Risk, Repo: store, Logger: logger},
		Lease:     orchestrator.NewLease(cfg.Orchestrator, cfg.Redis, redisClient, store, holder),
		OpsLog:    opsLog,
		Publisher: publisher,
		Metrics:   rec,
		Logger:    logger,
	}
	settler := &orchestrator.Settler{
		Config:  cfg.Episodes,
		Store:   store,
		Prices:  prices,
		OpsLog:  opsLog,
		Metrics: rec,
		Logger:  logger,
	}
	lifecycleMgr := &lifecycle.Manager{
		Config:    cfg.Lifecycle,
		Repo:      store,
		Trainer:   trainer.NewClient(cfg.Lifecycle.TrainerURL, cfg.Lifecycle.TrainerTimeout),
		OpsLog:    opsLog,
		Publisher: publisher,
		Metrics:   rec,
		Logger:    logger,
	}
	monitor := &safety.Monitor{
		Config:  cfg.Safety,
		Store:   store,
		Alerts:  dispatcher,
		OpsLog:  opsLog,
		Metrics: rec,
		Logger:  logger,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(auth.Middleware(cfg.Auth, auth.New(cfg.Auth)))

	(&handler.HealthHandler{DB: dbConn.Gorm, Breakers: store, Settings: settingsSvc}).Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	(&handler.SignalHandler{Repo: store}).Register(api)
	(&handler.ExecutionHandler{Repo: store}).Register(api)
	(&handler.ModelHandler{Repo: store, Lifecycle: lifecycleMgr}).Register(api)
	(&handler.AlertHandler{Repo: store, Monitor: monitor}).Register(api)
	(&handler.BreakerHandler{Repo: store, Breaker: guard}).Register(api)
	(&handler.CycleHandler{Repo: store, Runner: orch}).Register(api)
	(&handler.SystemSettingsHandler{Repo: store, Settings: settingsSvc}).Register(api)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	cronRunner := cronrunner.New(logger, ctx, settingsSvc)
	if cfg.Cron.Enabled {
		jobs := []struct {
			name, spec, feature string
			run                 func(context.Context) error
		}{
			{"orchestrator", cfg.Cron.Orchestrator, service.FeatureOrchestrator, func(ctx context.Context) error {
				_, err := orch.RunCycle(ctx)
				return err
			}},
			{"safety_monitor", cfg.Cron.SafetyMonitor, service.FeatureSafetyMonitor, func(ctx context.Context) error {
				_, err := monitor.Check(ctx)
				return err
			}},
			{"episode_settlement", cfg.Cron.EpisodeSettlement, service.FeatureEpisodeSettlement, func(ctx context.Context) error {
				_, err := settler.Run(ctx)
				return err
			}},
			{"metrics_rollup", cfg.Cron.MetricsRollup, service.FeatureMetricsRollup, lifecycleMgr.RefreshMetrics},
			{"lifecycle_update", cfg.Cron.LifecycleUpdate, service.FeatureModelLifecycle, lifecycleMgr.RunUpdates},
			{"lifecycle_promotion", cfg.Cron.LifecyclePromotion, service.FeatureModelLifecycle, lifecycleMgr.RunPromotions},
		}
		for _, job := range jobs {
			if strings.TrimSpace(job.spec) == "" {
				continue
			}
			if _, err := cronRunner.Add(job.name, job.spec, job.feature, job.run); err != nil {
				logger.Warn("cron register failed", zap.String("job", job.name), zap.Error(err))
			}
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// activeAssets feeds the price stream the assets that currently have a model.
func activeAssets(store *gormrepository.Store) market.AssetProvider {
	return func(ctx context.Context) ([]string, error) {
		items, err := store.ListModelsByStatus(ctx, models.ModelStatusActive)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, it.Asset)
		}
		return out, nil
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
