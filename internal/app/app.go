package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ikwen/paygate/internal/api"
	"github.com/ikwen/paygate/internal/api/handler"
	"github.com/ikwen/paygate/internal/api/middleware"
	"github.com/ikwen/paygate/internal/archive"
	"github.com/ikwen/paygate/internal/config"
	"github.com/ikwen/paygate/internal/db"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/gateway"
	"github.com/ikwen/paygate/internal/idempotency"
	"github.com/ikwen/paygate/internal/lock"
	"github.com/ikwen/paygate/internal/migrations"
	"github.com/ikwen/paygate/internal/observability"
	"github.com/ikwen/paygate/internal/repository"
	"github.com/ikwen/paygate/internal/service"
	"github.com/ikwen/paygate/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serviceName = "ikwen-paygate"

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := migrations.RunPool(pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	arch, closeArchive, err := newArchive(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect archive: %w", err)
	}
	defer closeArchive()

	store := repository.NewStore(pool)
	idemStore := idempotency.NewStore(redisClient, store, cfg.IdempotencyTTL)
	registry := newGatewayRegistry(cfg)
	logger.Info("gateways registered", zap.Any("providers", registry.Providers()))

	payments := service.NewPaymentService(store, registry, cfg.PublicBaseURL)
	payments.SetChargeTimeout(2 * cfg.GatewayTimeout)
	callbacks := service.NewCallbackService(store, registry, arch)
	deliveries := service.NewDeliveryService(store, arch, service.DeliveryOptions{
		MaxAttempts: cfg.DeliveryMaxAttempts,
		BaseBackoff: cfg.DeliveryBaseBackoff,
	})
	cashouts := service.NewCashOutService(store, lock.NewRedisLocker(redisClient, "paygate:lock"))
	tenants := service.NewTenantService(store)
	operators := service.NewOperatorService(store)
	reconciler := service.NewReconciliationService(store)

	if cfg.BootstrapAdminEmail != "" {
		if err := operators.EnsureBootstrapAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	chargeWorker := worker.NewChargeWorker(payments).
		WithPollInterval(cfg.ChargePollInterval).
		WithBatchSize(cfg.ChargeBatchSize).
		WithConcurrency(cfg.ChargeConcurrency)
	payments.SetChargeNotifier(chargeWorker.Notify)

	stopWorkers := []func(){
		chargeWorker.Run(ctx),
		worker.NewTimeoutWorker(payments, cfg.TxTimeout).WithInterval(cfg.TimeoutSweepInterval).Run(ctx),
		worker.NewDeliveryWorker(deliveries).WithPollInterval(cfg.DeliveryPollInterval).Run(ctx),
		worker.NewCashOutWorker(cashouts).WithInterval(cfg.CashOutInterval).Run(ctx),
		worker.NewReconciliationWorker(reconciler).WithInterval(cfg.ReconciliationInterval).Run(ctx),
	}
	logger.Info("workers started",
		zap.Duration("charge_interval", cfg.ChargePollInterval),
		zap.Duration("tx_timeout", cfg.TxTimeout),
		zap.Duration("delivery_interval", cfg.DeliveryPollInterval),
		zap.Duration("cashout_interval", cfg.CashOutInterval),
	)

	router := api.NewRouter(cfg, logger, api.Services{
		Payments:   payments,
		Callbacks:  callbacks,
		Deliveries: deliveries,
		CashOuts:   cashouts,
		Tenants:    tenants,
		Operators:  operators,
	}, idemStore, handler.NewHealthHandler(pool, redisClient, arch))

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		logger.Info("stopping workers")
		for _, stopWorker := range stopWorkers {
			stopWorker()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// newGatewayRegistry registers every provider whose credentials are configured.
func newGatewayRegistry(cfg *config.Config) *gateway.Registry {
	client := func(p domain.Provider) *gateway.Client {
		return gateway.NewClient(p, gateway.ClientOptions{
			Timeout: cfg.GatewayTimeout,
			RPS:     cfg.GatewayRPS,
			Burst:   max(int(cfg.GatewayRPS), 1),
		})
	}

	registry := gateway.NewRegistry()
	if cfg.MTN.BaseURL != "" {
		registry.Register(gateway.NewMTN(cfg.MTN, client(domain.ProviderMTNMoMo)))
	}
	if cfg.Orange.BaseURL != "" {
		registry.Register(gateway.NewOrange(cfg.Orange, client(domain.ProviderOrangeMoney)))
	}
	if cfg.UBA.BaseURL != "" {
		registry.Register(gateway.NewUBA(cfg.UBA))
	}
	if cfg.Yup.BaseURL != "" {
		registry.Register(gateway.NewYup(cfg.Yup, client(domain.ProviderYup)))
	}
	if cfg.JumboPay.BaseURL != "" {
		registry.Register(gateway.NewJumboPay(cfg.JumboPay, client(domain.ProviderJumboPay)))
	}
	if cfg.SandboxEnabled {
		registry.Register(gateway.NewSandbox(cfg.SandboxFailureRate))
	}
	return registry
}

// newArchive connects the MongoDB archive, or returns a no-op archive when
// MONGO_URL is not set.
func newArchive(ctx context.Context, cfg *config.Config) (archive.Archive, func(), error) {
	if cfg.MongoURL == "" {
		zap.L().Info("callback archive disabled")
		return archive.Nop{}, func() {}, nil
	}
	client, err := archive.Connect(ctx, cfg.MongoURL)
	if err != nil {
		return nil, nil, err
	}
	arch := archive.NewMongoArchive(client, cfg.MongoDatabase)
	if err := arch.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			zap.L().Warn("mongo disconnect failed", zap.Error(err))
		}
	}
	return arch, closeFn, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
