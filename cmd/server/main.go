package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	appledger "github.com/profitledger/backend/internal/application/ledger"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/infrastructure/analytics"
	"github.com/profitledger/backend/internal/infrastructure/auth"
	"github.com/profitledger/backend/internal/infrastructure/cache"
	"github.com/profitledger/backend/internal/infrastructure/config"
	"github.com/profitledger/backend/internal/infrastructure/ecommerce"
	"github.com/profitledger/backend/internal/infrastructure/fx"
	"github.com/profitledger/backend/internal/infrastructure/logger"
	"github.com/profitledger/backend/internal/infrastructure/messaging"
	"github.com/profitledger/backend/internal/infrastructure/migration"
	"github.com/profitledger/backend/internal/infrastructure/persistence"
	"github.com/profitledger/backend/internal/infrastructure/scheduler"
	"github.com/profitledger/backend/internal/infrastructure/storage"
	"github.com/profitledger/backend/internal/infrastructure/telemetry"
	"github.com/profitledger/backend/internal/interfaces/http/handler"
	"github.com/profitledger/backend/internal/interfaces/http/middleware"
	"github.com/profitledger/backend/internal/interfaces/http/router"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.ISO8601Millis,
		Service:    cfg.Telemetry.ServiceName,
		Env:        cfg.App.Env,
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
		LogsEnabled:       cfg.Telemetry.LogsEnabled,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Telemetry.Profiling.Enabled,
		ServerAddress:     cfg.Telemetry.Profiling.ServerAddress,
		ApplicationName:   cfg.Telemetry.ServiceName,
		BasicAuthUser:     cfg.Telemetry.Profiling.BasicAuthUser,
		BasicAuthPassword: cfg.Telemetry.Profiling.BasicAuthPassword,
		ProfileTypes:      cfg.Telemetry.Profiling.ProfileTypes,
		SpanProfiles:      cfg.Telemetry.Profiling.SpanProfiles,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize profiler", zap.Error(err))
	}
	profiler.EnableSpanProfiles(providers)

	// Rebuild the logger so records are also exported to the collector
	if providers.LogsEnabled() {
		bridged, err := logger.New(logCfg, providers.ZapCore(logger.ParseLevel(cfg.Log.Level)))
		if err != nil {
			log.Fatal("Failed to attach log exporter", zap.Error(err))
		}
		log = bridged
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting profit ledger",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
		zap.String("port", cfg.App.Port),
		zap.Bool("telemetry", providers.IsEnabled()),
		zap.Bool("profiling", profiler.IsEnabled()),
	)

	if cfg.Database.MigrateOnStart {
		if err := migration.Apply(cfg.Database.DSN(), migration.Source(cfg.Database.MigrationsPath), log); err != nil {
			log.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), 200*time.Millisecond)
	db, err := persistence.Open(ctx, &cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	meter := providers.Meter("profit-ledger")
	if _, err := telemetry.InstrumentDB(db.DB, telemetry.DBConfig{
		TraceEnabled: cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBName:       cfg.Database.DBName,
	}, meter, log); err != nil {
		log.Warn("Database instrumentation disabled", zap.Error(err))
	}

	var cipher persistence.TokenCipher
	if cfg.Crypto.TokenKey != "" {
		sb, err := auth.NewSecretboxCipher(cfg.Crypto.TokenKey)
		if err != nil {
			log.Fatal("Invalid token key", zap.Error(err))
		}
		cipher = sb
	} else {
		log.Warn("crypto.token_key not set, shop access tokens are stored in plain text")
	}
	repos := persistence.NewRepositories(db.DB, cipher)

	stores, err := cache.NewStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateStores(ctx)
	if err != nil {
		log.Fatal("Failed to create shared stores", zap.Error(err))
	}

	shopify := ecommerce.NewShopifyAdapter(&ecommerce.ShopifyConfig{
		APIVersion:      cfg.Shopify.APIVersion,
		RequestTimeout:  cfg.Shopify.RequestTimeout,
		BaseURLOverride: cfg.Shopify.BaseURLOverride,
	}, log)
	rates := fx.NewClient(fx.Config{BaseURL: cfg.FX.BaseURL, Timeout: cfg.FX.Timeout})

	var archive domain.ExportArchive
	if cfg.Storage.Enabled {
		s3, err := storage.NewS3ExportArchive(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create export archive", zap.Error(err))
		}
		archive = s3
	}

	var publisher domain.LedgerEventPublisher
	var mq *messaging.RabbitMQPublisher
	if cfg.Messaging.URL != "" {
		mq, err = messaging.NewRabbitMQPublisher(messaging.Config{
			URL:      cfg.Messaging.URL,
			Exchange: cfg.Messaging.Exchange,
		}, log)
		if err != nil {
			log.Warn("Ledger event publishing disabled", zap.Error(err))
		} else {
			publisher = mq
		}
	}

	var sink domain.RollupSink
	var clickhouse *analytics.ClickHouseSink
	if cfg.Analytics.Host != "" {
		clickhouse, err = analytics.NewClickHouseSink(ctx, analytics.Config{
			Host:     cfg.Analytics.Host,
			Port:     cfg.Analytics.Port,
			Database: cfg.Analytics.Database,
			Username: cfg.Analytics.Username,
			Password: cfg.Analytics.Password,
		}, log)
		if err != nil {
			log.Warn("Rollup mirror disabled", zap.Error(err))
		} else {
			sink = clickhouse
		}
	}

	var metrics appledger.Metrics
	if lm, err := telemetry.NewLedgerMetrics(meter); err != nil {
		log.Warn("Ledger metrics disabled", zap.Error(err))
	} else {
		metrics = lm
	}

	retry := appledger.RetryPolicy{
		MaxRetries: cfg.Worker.MaxRetries,
		BaseDelay:  cfg.Worker.RetryBaseDelay,
		MaxDelay:   cfg.Worker.RetryMaxDelay,
	}

	// Application services
	currency := appledger.NewCurrencyNormalizer(appledger.CurrencyNormalizerConfig{
		Rates:    rates,
		Cache:    stores.Rates,
		CacheTTL: cfg.FX.CacheTTL,
		Retry:    retry,
		Logger:   log,
	})
	costResolver := appledger.NewCostResolver(appledger.CostResolverConfig{
		Snapshots:    repos.Costs,
		Source:       shopify,
		Currency:     currency,
		Retry:        retry,
		FetchTimeout: cfg.Shopify.RequestTimeout,
		Logger:       log,
	})
	rollups := appledger.NewRollupAggregator(appledger.RollupAggregatorConfig{
		Orders:   repos.Orders,
		Rollups:  repos.Rollups,
		AdSpend:  repos.AdSpend,
		Currency: currency,
		Sink:     sink,
		Logger:   log,
	})
	reconciler := appledger.NewReconciler(appledger.ReconcilerConfig{
		Orders:    repos.Orders,
		Costs:     costResolver,
		Fees:      appledger.NewFeeResolver(currency),
		Currency:  currency,
		Rollups:   rollups,
		Publisher: publisher,
		Logger:    log,
	})
	intake := appledger.NewIntake(appledger.IntakeConfig{
		Shops:       repos.Shops,
		Events:      repos.Events,
		Reconciler:  reconciler,
		Verifier:    ecommerce.ShopifyWebhookVerifier{},
		Secret:      cfg.Shopify.APISecret,
		Concurrency: cfg.Worker.Concurrency,
		Metrics:     metrics,
		Logger:      log,
	})
	queries := appledger.NewQueryService(repos.Orders, repos.Rollups, appledger.DefaultHealthThresholds())
	shops := appledger.NewShopService(repos.Shops, domain.DefaultSettings(
		decimal.NewFromFloat(cfg.Fees.DefaultPercentage),
		decimal.NewFromFloat(cfg.Fees.DefaultFixed),
	), log)
	jwtService := auth.NewJWTService(cfg.JWT)

	// Background jobs
	runner := scheduler.NewRunner(scheduler.RunnerConfig{
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		JobTimeout:        cfg.Backfill.JobTimeout,
	}, log)
	if err := runner.Start(ctx); err != nil {
		log.Fatal("Failed to start job runner", zap.Error(err))
	}

	backfills := appledger.NewBackfillCoordinator(appledger.BackfillCoordinatorConfig{
		Shops:      repos.Shops,
		Backfills:  repos.Backfills,
		Exporter:   shopify,
		Archive:    archive,
		Reconciler: reconciler,
		Leases:     stores.Leases,
		Runner:     runner,
		Retry: appledger.RetryPolicy{
			MaxRetries: cfg.Backfill.MaxRetries,
			BaseDelay:  cfg.Worker.RetryBaseDelay,
			MaxDelay:   cfg.Worker.RetryMaxDelay,
		},
		Config: appledger.BackfillConfig{
			DefaultDays:  cfg.Backfill.Days,
			MaxDays:      cfg.Backfill.MaxDays,
			BatchSize:    cfg.Backfill.BatchSize,
			Concurrency:  cfg.Worker.Concurrency,
			PollInterval: cfg.Backfill.PollInterval,
			JobTimeout:   cfg.Backfill.JobTimeout,
			ArchiveRaw:   cfg.Backfill.ArchiveRaw,
		},
		Metrics: metrics,
		Logger:  log,
	})
	if n, err := backfills.RecoverRunning(ctx); err != nil {
		log.Error("Failed to recover running backfills", zap.Error(err))
	} else if n > 0 {
		log.Info("Resumed interrupted backfills", zap.Int("count", n))
	}

	var cron *scheduler.CronTrigger
	if cfg.Scheduler.RefreshEnabled {
		cron = scheduler.NewCronTrigger(scheduler.CronTriggerConfig{
			RefreshHour:   cfg.Scheduler.RefreshHour,
			RefreshMinute: cfg.Scheduler.RefreshMinute,
			LookbackDays:  cfg.Scheduler.LookbackDays,
		}, runner, repos.Shops, rollups, log)
		if err := cron.Start(ctx); err != nil {
			log.Fatal("Failed to start rollup refresh", zap.Error(err))
		}
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	engine.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     providers.IsEnabled(),
	}))
	if httpMetrics, err := middleware.HTTPMetrics(meter); err != nil {
		log.Warn("HTTP metrics disabled", zap.Error(err))
	} else {
		engine.Use(httpMetrics)
	}

	var limiter *middleware.RateLimiter
	if cfg.HTTP.RateLimitEnabled {
		limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		defer limiter.Stop()
	}

	handlers := router.Handlers{
		System:    handler.NewSystemHandler(db, version),
		Webhook:   handler.NewWebhookHandler(intake),
		Dashboard: handler.NewDashboardHandler(queries),
		Order:     handler.NewOrderHandler(queries, reconciler),
		AdSpend:   handler.NewAdSpendHandler(rollups),
		Cost:      handler.NewCostHandler(costResolver),
		Backfill:  handler.NewBackfillHandler(backfills),
		Shop:      handler.NewShopHandler(shops, jwtService),
	}
	if cron != nil {
		handlers.Maintenance = handler.NewMaintenanceHandler(cron, runner)
	}
	routes := router.RegisterAPI(engine, handlers, router.APIConfig{
		Tokens:      jwtService,
		Shops:       shops,
		RateLimiter: limiter,
		Logger:      log,
	})
	for _, rt := range routes {
		log.Debug("Route registered", zap.String("group", rt.Group), zap.String("method", rt.Method), zap.String("path", rt.Path))
	}
	log.Info("API routes registered", zap.Int("count", len(routes)))

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if cron != nil {
		if err := cron.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping rollup refresh", zap.Error(err))
		}
	}
	// Interrupted backfills stay running in the store and resume on next start
	if err := runner.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping job runner", zap.Error(err))
	}
	if err := stores.Close(); err != nil {
		log.Error("Error closing shared stores", zap.Error(err))
	}
	if mq != nil {
		if err := mq.Close(); err != nil {
			log.Error("Error closing event publisher", zap.Error(err))
		}
	}
	if clickhouse != nil {
		if err := clickhouse.Close(); err != nil {
			log.Error("Error closing rollup mirror", zap.Error(err))
		}
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down telemetry", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
