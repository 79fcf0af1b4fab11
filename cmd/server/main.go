package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/academy/backend/internal/application/access"
	"github.com/academy/backend/internal/application/enrollment"
	"github.com/academy/backend/internal/application/gateway"
	"github.com/academy/backend/internal/application/ledger"
	"github.com/academy/backend/internal/infrastructure/auth"
	"github.com/academy/backend/internal/infrastructure/cache"
	"github.com/academy/backend/internal/infrastructure/config"
	"github.com/academy/backend/internal/infrastructure/logger"
	"github.com/academy/backend/internal/infrastructure/persistence"
	"github.com/academy/backend/internal/infrastructure/telemetry"
	"github.com/academy/backend/internal/interfaces/http/handler"
	"github.com/academy/backend/internal/interfaces/http/middleware"
	"github.com/academy/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.DefaultTimeFormat,
		Service:    cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("Starting academy backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("timezone", cfg.App.Timezone),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Environment:       cfg.App.Env,
		Insecure:          cfg.Telemetry.Insecure,
		ExportInterval:    cfg.Telemetry.ExportInterval,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), cfg.Database.SlowQueryThreshold)
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:  cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBSystem: "postgresql",
	}, log)
	if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}

	meter := providers.Meter(cfg.Telemetry.ServiceName)
	businessMetrics, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter:           meter,
		Logger:          log,
		CollectInterval: cfg.Telemetry.MetricsInterval,
		StatsProvider:   persistence.NewGormStatsRepository(db.DB),
		PoolStats:       db.Stats,
	})
	if err != nil {
		log.Fatal("Failed to initialize business metrics", zap.Error(err))
	}
	businessMetrics.StartPeriodicCollection(ctx, cfg.Telemetry.MetricsInterval)
	defer businessMetrics.Stop()

	locker, err := cache.NewCohortLockerFactory(cfg.Redis, cfg.Allocation.LockTTL,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateLocker()
	if err != nil {
		log.Fatal("Failed to initialize cohort lock", zap.Error(err))
	}

	groups := persistence.NewGormGroupRepository(db.DB)
	students := persistence.NewGormStudentRepository(db.DB)
	contracts := persistence.NewGormContractRepository(db.DB)
	transactions := persistence.NewGormTransactionRepository(db.DB)
	gateLogs := persistence.NewGormGateLogRepository(db.DB)
	scope := persistence.NewGormLedgerScope(db.DB)
	loc := cfg.App.Location()

	paymeService := gateway.NewPaymeService(gateway.PaymeConfig{
		MerchantID:         cfg.Payme.MerchantID,
		Login:              cfg.Payme.Login,
		Key:                cfg.Payme.Key,
		MinorUnitsPerMajor: cfg.Payme.MinorUnitsPerMajor,
		Location:           loc,
		ExemptMethods:      cfg.Payme.ExemptMethods,
	}, contracts, transactions, scope, log.Named("payme"))
	paymeService.SetMetrics(businessMetrics)

	clickService := gateway.NewClickService(gateway.ClickConfig{
		ServiceID: cfg.Click.ServiceID,
		SecretKey: cfg.Click.SecretKey,
		Location:  loc,
	}, students, contracts, transactions, scope, log.Named("click"))
	clickService.SetMetrics(businessMetrics)

	allocator := enrollment.NewAllocatorService(groups, students, contracts, locker, log.Named("allocator"))
	allocator.SetMetrics(businessMetrics)

	ledgerService := ledger.NewLedgerService(scope, transactions, log.Named("ledger"))
	ledgerService.SetMetrics(businessMetrics)

	gateService := access.NewGateService(students, contracts, transactions, gateLogs, loc, log.Named("gate"))
	gateService.SetMetrics(businessMetrics)

	debtService := ledger.NewDebtService(students, contracts, transactions, loc, log.Named("debt"))

	health := handler.NewHealthHandler(db)
	if redisLocker, ok := locker.(*cache.RedisCohortLocker); ok {
		defer func() {
			if err := redisLocker.Close(); err != nil {
				log.Error("Error closing Redis client", zap.Error(err))
			}
		}()
		health.AddCheck("redis", func(ctx context.Context) error {
			return redisLocker.GetClient().Ping(ctx).Err()
		})
	}

	var gateLimiter *middleware.RateLimiter
	if cfg.Gate.RateLimit > 0 {
		gateLimiter = middleware.NewRateLimiter(cfg.Gate.RateLimit, cfg.Gate.RateWindow)
	}

	engine, err := router.NewEngine(router.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: cfg.Telemetry.Enabled,
		CORS: middleware.CORSConfig{
			AllowOrigins: cfg.HTTP.CORSAllowOrigins,
			AllowMethods: cfg.HTTP.CORSAllowMethods,
			AllowHeaders: cfg.HTTP.CORSAllowHeaders,
			MaxAge:       12 * time.Hour,
		},
		MaxBodySize:     cfg.HTTP.MaxBodySize,
		TrustedProxies:  cfg.HTTP.TrustedProxies,
		Tokens:          auth.NewJWTService(cfg.JWT),
		GateDeviceToken: cfg.Gate.DeviceToken,
		GateLimiter:     gateLimiter,
		Meter:           meter,
		Logger:          log,
	}, router.Handlers{
		Payme:       handler.NewPaymeHandler(paymeService, log),
		Click:       handler.NewClickHandler(clickService, log),
		Gate:        handler.NewGateHandler(gateService, log),
		Contract:    handler.NewContractHandler(allocator, log),
		Debt:        handler.NewDebtHandler(debtService, log),
		Transaction: handler.NewTransactionHandler(ledgerService, log),
		Health:      health,
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		log.Error("Server failed", zap.Error(err))
	case <-ctx.Done():
		log.Info("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	_ = providers.Shutdown(shutdownCtx)

	log.Info("Server exited gracefully")
}
