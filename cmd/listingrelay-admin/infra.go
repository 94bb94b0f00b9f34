package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/bootstrap"
)

var errPostgresRequired = errors.New("admin commands need STORE_DRIVER=postgres; the memory store lives inside the service process")

func runMigrations(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	timeout := fs.Duration("timeout", defaultMigrationTimeout, "Maximum duration to wait for migrations to complete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *timeout <= 0 {
		return errors.New("--timeout must be greater than zero")
	}
	if !cmdCtx.Config.Store.NeedsPostgres() {
		return errors.New("migrate needs a Postgres-backed STORE_DRIVER or RECORD_STORE_DRIVER")
	}

	return withInfra(cmdCtx, *timeout, func(ctx context.Context, infra *bootstrap.Infra) error {
		cmdCtx.Logger.Info("running database migrations")
		return infra.Migrate(ctx, true, cmdCtx.Logger)
	})
}

// withInfra opens the configured connections under a signal-aware deadline and
// closes them once f returns.
func withInfra(cmdCtx *commandContext, timeout time.Duration, f func(context.Context, *bootstrap.Infra) error) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	infra, err := bootstrap.OpenInfra(&cmdCtx.Config, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := infra.Close(); cerr != nil {
			cmdCtx.Logger.Warn("connection close failed", "error", cerr)
		}
	}()
	return f(ctx, infra)
}

// withServices runs f against services wired to the shared Postgres store.
// The job runner is never started here, so submitted jobs wait for a job-runner process.
func withServices(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *bootstrap.ServiceContainer) error,
) error {
	if cmdCtx.Config.Store.Driver != config.DriverPostgres {
		return errPostgresRequired
	}

	return withInfra(cmdCtx, timeout, func(ctx context.Context, infra *bootstrap.Infra) error {
		cfg := cmdCtx.Config
		cfg.Services = string(config.ServiceModeHTTP)
		services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
			Config:      &cfg,
			DB:          infra.DB,
			RedisClient: infra.Redis,
			Logger:      cmdCtx.Logger,
		})
		if err != nil {
			return fmt.Errorf("init services: %w", err)
		}
		defer func() {
			if cerr := services.Close(context.WithoutCancel(ctx)); cerr != nil {
				cmdCtx.Logger.Warn("service shutdown incomplete", "error", cerr)
			}
		}()

		return f(ctx, services)
	})
}
