package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/discount-engine/internal/domain/discount"
	"github.com/xenking/discount-engine/internal/storage/memory"
	"github.com/xenking/discount-engine/internal/storage/postgres"
	"github.com/xenking/discount-engine/internal/storage/redis"
	"github.com/xenking/discount-engine/internal/storage/sqlite"
	"github.com/xenking/discount-engine/pkg/health"
)

// RuleStore is the full surface of every rule store driver.
type RuleStore interface {
	discount.Repository
	discount.RuleWriter
	discount.CategoryResolver
	discount.CategoryWriter
}

var (
	_ RuleStore = (*postgres.Store)(nil)
	_ RuleStore = (*sqlite.Store)(nil)
	_ RuleStore = (*memory.Store)(nil)
)

// OpenRuleStore opens the configured driver and applies migrations. The
// returned func releases it.
func OpenRuleStore(ctx context.Context, cfg StorageConfig) (RuleStore, func(), error) {
	rs, _, closeFn, err := openDriver(ctx, cfg)
	return rs, closeFn, err
}

func openDriver(ctx context.Context, cfg StorageConfig) (RuleStore, health.Pinger, func(), error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			pool.Close()
			return nil, nil, nil, errors.Wrap(err, "run migrations")
		}
		return postgres.NewStore(pool), pool, pool.Close, nil
	case DriverSQLite:
		lite, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "open sqlite store")
		}
		return lite, lite, func() { _ = lite.Close() }, nil
	case DriverMemory:
		return memory.New(), nil, func() {}, nil
	default:
		return nil, nil, nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// store is the rule store selected by configuration, with the probes and
// cleanup that come with it.
type store struct {
	repo    discount.Repository
	rules   RuleStore
	ready   map[string]health.Pinger
	closers []func()
}

func (s *store) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStore opens the configured driver and puts the Redis usage gate in
// front of it when configured.
func openStore(ctx context.Context, cfg *Config) (*store, error) {
	lg := zctx.From(ctx)
	rs, pinger, closeFn, err := openDriver(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	s := &store{
		repo:    rs,
		rules:   rs,
		ready:   make(map[string]health.Pinger),
		closers: []func(){closeFn},
	}
	if pinger != nil {
		s.ready[cfg.Storage.Driver] = pinger
	} else {
		lg.Warn("Using in-memory rule store, data is lost on restart")
	}
	lg.Info("Rule store opened", zap.String("driver", cfg.Storage.Driver))

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		s.closers = append(s.closers, func() { _ = client.Close() })

		gate := redis.NewGate(s.repo, client)
		s.repo = gate
		s.ready["redis"] = gate
		lg.Info("Redis usage gate enabled", zap.String("addr", cfg.Redis.Addr))
	}
	return s, nil
}
