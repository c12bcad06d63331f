package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/innovasure/settlement-orchestrator/internal/api"
	"github.com/innovasure/settlement-orchestrator/internal/api/middleware"
	"github.com/innovasure/settlement-orchestrator/internal/config"
	"github.com/innovasure/settlement-orchestrator/internal/db"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/gateway"
	"github.com/innovasure/settlement-orchestrator/internal/idempotency"
	"github.com/innovasure/settlement-orchestrator/internal/lease"
	"github.com/innovasure/settlement-orchestrator/internal/observability"
	"github.com/innovasure/settlement-orchestrator/internal/repository"
	"github.com/innovasure/settlement-orchestrator/internal/service"
	"github.com/innovasure/settlement-orchestrator/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is a storage driver with its lifecycle hooks.
type Store interface {
	service.QueryStore
	Ping(ctx context.Context) error
}

// Services is the wired service graph shared by the API server and the CLI.
type Services struct {
	Store       Store
	Ledger      *service.PayoutLedger
	Settlements *service.SettlementService
	Dispatch    *service.DispatchService
	Manual      *service.ManualReconciliationService
	Status      *service.StatusService
	Integrity   *service.IntegrityService
	Callbacks   *service.CallbackService
}

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run(version string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = NewRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
	}

	var locker lease.Locker = lease.NewLocalLocker()
	var idemStore *idempotency.Store
	if redisClient != nil {
		locker = lease.NewRedisLocker(redisClient)
		idemStore = idempotency.NewStore(redisClient, cfg.IdempotencyTTL)
	} else {
		logger.Warn("REDIS_URL not set; leases and idempotency keys are held in-process")
		idemStore = idempotency.NewStore(nil, cfg.IdempotencyTTL)
	}

	svc := NewServices(cfg, store, locker)

	pool := worker.NewDispatchPool(svc.Dispatch, cfg.DispatchWorkers, cfg.DispatchQueueSize)
	svc.Dispatch.SetQueue(pool)
	stopPool := pool.Run(ctx)

	sweeper := worker.NewStaleSweeper(svc.Dispatch).WithInterval(cfg.StaleSweepInterval)
	stopSweeper := sweeper.Run(ctx)
	integrity := worker.NewIntegrityWorker(svc.Integrity).WithInterval(cfg.IntegrityCheckInterval)
	stopIntegrity := integrity.Run(ctx)
	logger.Info("workers started",
		zap.Int("dispatch_workers", cfg.DispatchWorkers),
		zap.Duration("stale_sweep_interval", cfg.StaleSweepInterval),
		zap.Duration("integrity_interval", cfg.IntegrityCheckInterval),
	)

	var cacheClient redis.Cmdable
	if redisClient != nil {
		cacheClient = redisClient
	}
	router := api.NewRouter(cfg, logger, store, cacheClient, idemStore, api.Services{
		Settlements: svc.Settlements,
		Dispatch:    svc.Dispatch,
		Status:      svc.Status,
		Manual:      svc.Manual,
		Ledger:      svc.Ledger,
		Callbacks:   svc.Callbacks,
	})

	// WriteTimeout leaves room for a category transfer bounded by the provider timeout.
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ProviderTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("version", version), zap.String("port", cfg.HTTPPort), zap.String("storage", cfg.StorageDriver), zap.String("provider_mode", cfg.ProviderMode))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	stopSweeper()
	stopIntegrity()
	stopPool()

	logger.Info("shutdown complete")
	return nil
}

// OpenStore connects the configured storage driver and applies its schema.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		sqlDB, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.MigrateSQLite(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return repository.NewSQLiteStore(sqlDB), func() { sqlDB.Close() }, nil
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return repository.NewStore(pool), pool.Close, nil
	}
}

// NewServices wires the service graph. The dispatch queue is left unset;
// callers attach a worker pool or dispatch rows themselves.
func NewServices(cfg *config.Config, store Store, locker lease.Locker) *Services {
	audit := service.NewAuditService(store)
	ledger := service.NewPayoutLedger(store, audit)
	// Without a bank rail, category transfers and bank beneficiaries are
	// settled outside the service and recorded by operators.
	var bank gateway.Provider
	providers := gateway.Registry{}
	if cfg.BankRail == config.BankRailSimulator {
		simulator := gateway.NewBankProvider(0)
		bank = simulator
		providers[domain.ProviderBank] = simulator
	}
	var mock *gateway.MockProvider
	if cfg.ProviderMode == config.ProviderModeLive {
		providers[domain.ProviderMpesa] = gateway.NewMpesaB2C(gateway.MpesaConfig{
			BaseURL:            cfg.Mpesa.BaseURL,
			ConsumerKey:        cfg.Mpesa.ConsumerKey,
			ConsumerSecret:     cfg.Mpesa.ConsumerSecret,
			InitiatorName:      cfg.Mpesa.InitiatorName,
			SecurityCredential: cfg.Mpesa.SecurityCredential,
			ShortCode:          cfg.Mpesa.ShortCode,
			ResultURL:          cfg.Mpesa.ResultURL,
			QueueTimeoutURL:    cfg.Mpesa.QueueTimeoutURL,
		}, nil)
	} else {
		mock = gateway.NewMockProvider(cfg.MockFailureRate)
		providers[domain.ProviderMpesa] = mock
	}

	dispatch := service.NewDispatchService(store, ledger, providers, locker, cfg.ProviderTimeout)
	callbacks := service.NewCallbackService(dispatch, cfg.WebhookHMACKey, cfg.WebhookSkipSignature)
	if mock != nil {
		mock.SetSink(callbacks.Sink())
	}

	return &Services{
		Store:  store,
		Ledger: ledger,
		Settlements: service.NewSettlementService(store, ledger, bank, locker, service.CategoryAccounts{
			Insurance:      cfg.InsuranceAccount,
			Administrative: cfg.AdminAccount,
		}, cfg.ProviderTimeout),
		Dispatch:  dispatch,
		Manual:    service.NewManualReconciliationService(store, ledger),
		Status:    service.NewStatusService(store, ledger),
		Integrity: service.NewIntegrityService(store),
		Callbacks: callbacks,
	}
}

func NewLogger(level string) (*zap.Logger, error) {
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

func NewRedisClient(url string) (*redis.Client, error) {
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
