package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // non-zero exit on fatal startup or runtime errors
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logStartup(ctx, logger, &cfg)

	if err = bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}

	infra, err := bootstrap.OpenInfra(&cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := infra.Close(); cerr != nil {
			logger.ErrorContext(ctx, "infrastructure shutdown incomplete", "error", cerr)
		}
	}()

	if err = infra.Migrate(ctx, cfg.Postgres.RunMigrationsOnStart, logger); err != nil {
		return err
	}

	services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config:      &cfg,
		DB:          infra.DB,
		RedisClient: infra.Redis,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:      &cfg,
		Services:    services,
		DB:          infra.DB,
		RedisClient: infra.Redis,
		Logger:      logger,
	})
}

func logStartup(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting listing-relay",
		"services", bootstrap.GetEnabledServices(cfg),
		"store_driver", cfg.Store.Driver,
		"record_driver", cfg.Store.RecordDriver,
		"redis_enabled", cfg.Redis.Enabled,
	)
}
