package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/target/listing-relay/config"
)

// Infra holds the shared connections the configured backends need.
// DB is nil unless a Postgres-backed store is selected; Redis is nil unless REDIS_ENABLED.
type Infra struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

// OpenInfra connects Postgres and Redis as cfg requires. On failure every connection
// opened so far is closed before returning.
func OpenInfra(cfg *config.AppConfig, logger *slog.Logger) (*Infra, error) {
	infra := &Infra{}

	if cfg.Store.NeedsPostgres() {
		db, err := ConnectDB(DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		infra.DB = db
	}

	if cfg.Redis.Enabled {
		client, err := ConnectRedis(DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("connect redis: %w", err), infra.Close())
		}
		infra.Redis = client
	}
	return infra, nil
}

// Migrate applies schema migrations when a database is connected and migrate is set.
func (i *Infra) Migrate(ctx context.Context, migrate bool, logger *slog.Logger) error {
	switch {
	case i.DB == nil:
		return nil
	case !migrate:
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
		return nil
	default:
		return RunMigrations(ctx, i.DB, logger)
	}
}

// Close releases Redis then Postgres. Safe on a partially opened Infra.
func (i *Infra) Close() error {
	var errs []error
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		i.Redis = nil
	}
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		i.DB = nil
	}
	return errors.Join(errs...)
}
