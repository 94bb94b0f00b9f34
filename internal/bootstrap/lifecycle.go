package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/adapters/reaper"
	"github.com/target/listing-relay/internal/core"
)

// shutdownWaitTimeout bounds draining the shared services after every runnable has stopped.
const shutdownWaitTimeout = 15 * time.Second

// ServiceOrchestrationConfig contains what RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    *ServiceContainer
	DB          *sql.DB               // Optional: health checks
	RedisClient redis.UniversalClient // Optional: health checks
	Logger      *slog.Logger
}

// runnable is a long-lived component started for one SERVICES mode.
// run must return nil once ctx is cancelled.
type runnable struct {
	mode config.ServiceMode
	name string
	run  func(context.Context) error
}

// RunServicesWithShutdown starts every enabled service and blocks until SIGINT/SIGTERM
// or until one of them fails, then stops the rest and closes the shared services.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	switch {
	case cfg == nil:
		return errors.New("service orchestration config is required")
	case cfg.Config == nil:
		return errors.New("service orchestration config missing AppConfig")
	case cfg.Services == nil:
		return errors.New("service orchestration config missing services")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := runAll(ctx, enabledRunnables(cfg, logger, enabled), logger)
	if runErr != nil {
		logger.Error("service failed", "error", runErr)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
	defer cancel()
	return errors.Join(runErr, cfg.Services.Close(closeCtx))
}

// runAll runs every runnable until ctx is done or one returns an error, which cancels the others.
func runAll(ctx context.Context, runnables []runnable, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runnables {
		g.Go(func() error {
			logger.InfoContext(gctx, "service started", "service", r.name, "mode", r.mode)
			if err := r.run(gctx); err != nil {
				return fmt.Errorf("%s: %w", r.name, err)
			}
			logger.InfoContext(gctx, "service stopped", "service", r.name)
			return nil
		})
	}
	return g.Wait()
}

func enabledRunnables(cfg *ServiceOrchestrationConfig, logger *slog.Logger, enabled map[config.ServiceMode]bool) []runnable {
	all := []runnable{
		{mode: config.ServiceModeHTTP, name: "http server", run: httpRunnable(cfg, logger)},
		{mode: config.ServiceModeJobRunner, name: "job runner", run: jobRunnerRunnable(cfg.Services)},
		{mode: config.ServiceModeReaper, name: "reaper", run: reaperRunnable(cfg, logger)},
	}
	out := make([]runnable, 0, len(all))
	for _, r := range all {
		if enabled[r.mode] {
			out = append(out, r)
		}
	}
	return out
}

func httpRunnable(cfg *ServiceOrchestrationConfig, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		handler := BuildHTTPHandler(cfg.Services, HTTPHandlerOptions{
			HTTP:        cfg.Config.HTTP,
			DB:          cfg.DB,
			RedisClient: cfg.RedisClient,
			Logger:      logger,
		})
		return serveHTTP(ctx, newHTTPServer(cfg.Config.HTTP.Addr, handler), logger)
	}
}

func jobRunnerRunnable(services *ServiceContainer) func(context.Context) error {
	return func(ctx context.Context) error {
		if services.Runner == nil {
			return errors.New("job runner is not wired")
		}
		return services.Runner.Run(ctx)
	}
}

func reaperRunnable(cfg *ServiceOrchestrationConfig, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		storage := cfg.Services.Storage
		opts := reaper.RunnerOptions{
			Jobs:    storage.Jobs,
			Config:  cfg.Config.Reaper,
			Logger:  logger,
			Metrics: cfg.Services.Observability.Collector,
		}
		if dr, ok := storage.Deliveries.(core.DeliveryReaper); ok {
			opts.Deliveries = dr
		}
		runner, err := reaper.NewRunner(opts)
		if err != nil {
			return err
		}
		return runner.Run(ctx)
	}
}
