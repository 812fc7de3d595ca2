package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/regelwerk/internal/config"
	"github.com/pitabwire/regelwerk/internal/idempotency"
	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/internal/store"
)

// app holds what every command shares: configuration, logger, metrics and
// the open store.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	store    store.Store
	raw      store.Store
}

// migrator is implemented by the SQL stores.
type migrator interface {
	Migrate(ctx context.Context) ([]string, error)
}

// migrateMode says whether newApp applies schema migrations.
type migrateMode int

const (
	migrateAuto migrateMode = iota // follow store.auto_migrate
	migrateAlways
	migrateNever
)

// newApp loads the configuration and opens the store.
func newApp(ctx context.Context, configPath string, mode migrateMode) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.InitMetrics(reg)

	raw, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  metrics,
		raw:      raw,
		store:    store.Instrument(raw, metrics),
	}

	if mode == migrateAlways || (mode == migrateAuto && cfg.Store.AutoMigrate) {
		if _, err := a.migrate(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

// migrate applies pending schema migrations and returns their names. The
// memory store has no schema.
func (a *app) migrate(ctx context.Context) ([]string, error) {
	m, ok := a.raw.(migrator)
	if !ok {
		return nil, nil
	}
	applied, err := m.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	for _, name := range applied {
		a.logger.Info("migration applied", zap.String("migration", name))
	}
	return applied, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// openStore creates the store selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Info("using in-memory store")
		return store.NewMemoryStore(), nil

	case config.DriverSQLite:
		logger.Info("using sqlite store", zap.String("path", cfg.SQLitePath))
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		return s, nil

	case config.DriverPostgres:
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("postgres store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("postgres store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres store: ping: %w", err)
		}
		logger.Info("using postgres store")
		return store.NewPgStore(pool), nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// openIdempotencyStore creates the idempotency store. It returns a nil store
// when idempotency is disabled.
func openIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}

	switch cfg.Store.Driver {
	case config.DriverMemory, "":
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), func() {}, nil

	case config.DriverRedis:
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency store: %s environment variable not set", cfg.Store.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("idempotency store: ping: %w", err)
		}
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return idempotency.NewRedisStore(client), func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported idempotency store driver: %q", cfg.Store.Driver)
	}
}
