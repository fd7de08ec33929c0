package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-booking/internal/api"
	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
	"github.com/hackgods/doctor-appointment-booking/internal/config"
	"github.com/hackgods/doctor-appointment-booking/internal/db"
	redisclient "github.com/hackgods/doctor-appointment-booking/internal/redis"
)

// Infra holds the storage and lock backends selected by configuration.
type Infra struct {
	Repo   appointment.Repository
	Pool   *pgxpool.Pool // nil for the memory driver
	Redis  *redis.Client // nil when the slot lock is disabled or unreachable
	Locker redisclient.Locker

	logger *zap.Logger
}

// OpenInfra connects the configured store and, if enabled, Redis. An unreachable
// Redis is logged and skipped; the store's claim is sufficient on its own.
func OpenInfra(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Infra, error) {
	infra := &Infra{logger: logger}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		infra.Repo = appointment.NewMemoryRepository()
	default:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		infra.Pool = pool
		infra.Repo = appointment.NewPgRepository(pool)
		logger.Info("connected to postgres")

		if cfg.RunMigrations {
			if err := migrate(ctx, pool, logger); err != nil {
				pool.Close()
				return nil, err
			}
		}
	}

	if cfg.RedisEnabled {
		rdb, err := redisclient.Connect(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Warn("redis unavailable, continuing without slot lock", zap.Error(err))
		} else {
			infra.Redis = rdb
			infra.Locker = redisclient.NewSlotLocker(rdb, cfg.LockTTL)
			logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		}
	}

	return infra, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	m, err := db.NewMigrator(pool, logger)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up(ctx)
}

// Dependencies lists readiness checks for whichever backends are in use.
func (i *Infra) Dependencies() []api.Dependency {
	var deps []api.Dependency
	if i.Pool != nil {
		deps = append(deps, api.Dependency{Name: "postgres", Check: i.Pool.Ping})
	}
	if i.Redis != nil {
		deps = append(deps, api.Dependency{
			Name:     "redis",
			Optional: true,
			Check:    func(ctx context.Context) error { return i.Redis.Ping(ctx).Err() },
		})
	}
	return deps
}

func (i *Infra) Close() {
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			i.logger.Warn("error closing redis", zap.Error(err))
		}
	}
	if i.Pool != nil {
		i.Pool.Close()
	}
}
