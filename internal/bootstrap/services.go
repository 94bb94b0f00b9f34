package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/adapters/jobrunner"
	"github.com/target/listing-relay/internal/adapters/scraper"
	"github.com/target/listing-relay/internal/adapters/timer"
	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/eventbus"
	"github.com/target/listing-relay/internal/observability/metrics"
	"github.com/target/listing-relay/internal/observability/notify"
	"github.com/target/listing-relay/internal/observability/notify/pagerduty"
	"github.com/target/listing-relay/internal/observability/notify/slack"
	"github.com/target/listing-relay/internal/observability/statsd"
	"github.com/target/listing-relay/internal/service"
	"github.com/target/listing-relay/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Storage      *Storage
	Bus          *eventbus.Bus
	Timer        *timer.Scheduler
	Scrapers     *scraper.Registry
	Deliveries   *service.DeliveryWorker
	Dispatcher   *service.WebhookDispatcher
	Orchestrator *service.JobOrchestrator
	Calls        *service.CallSummaryService
	// Runner is nil unless the job-runner service is enabled.
	Runner        *jobrunner.Runner
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	Registry        *metrics.Registry
	MetricsSink     *statsd.Client
	Collector       metrics.Collector
	FailureNotifier *failurenotifier.Service
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	HTTPClient  *http.Client      // Optional: outbound client for scrapers and webhooks
	Clock       core.TimeProvider // Optional: defaults to the system clock
	Logger      *slog.Logger
}

// buildObservability configures the in-process registry, the optional StatsD sink and the
// failure notifier, which counts its outcomes on the resulting collector.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	registry := metrics.NewRegistry()
	obs := ObservabilityContainer{Registry: registry, Collector: registry}

	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.StatsdPrefix,
			Logger:  logger,
		})
		if err != nil {
			logger.Error("statsd disabled", "error", err)
		} else {
			obs.MetricsSink = client
			obs.Collector = metrics.Multi(registry, client)
		}
	}

	obs.FailureNotifier = failurenotifier.NewService(failurenotifier.Options{
		Sinks:   notificationSinks(logger, cfg.Notifications),
		Logger:  logger,
		Metrics: obs.Collector,
	})
	if obs.FailureNotifier.Enabled() {
		logger.Info("failure notifications enabled", "sinks", obs.FailureNotifier.SinkNames())
	}
	return obs
}

// notificationSinks builds the Slack and PagerDuty sinks that survived config sanitisation.
// A sink that fails to initialise is logged and skipped.
func notificationSinks(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) []failurenotifier.SinkRegistration {
	type candidate struct {
		name    string
		enabled bool
		build   func() (notify.Sink, error)
	}
	candidates := []candidate{
		{name: "slack", enabled: cfg.Slack.Enabled, build: func() (notify.Sink, error) {
			return slack.NewClient(slack.Config{
				WebhookURL:   cfg.Slack.WebhookURL,
				Channel:      cfg.Slack.Channel,
				Username:     cfg.Slack.Username,
				Timeout:      cfg.Timeout,
				RetryLimit:   cfg.RetryLimit,
				JobURLPrefix: cfg.Slack.JobURLPrefix,
			})
		}},
		{name: "pagerduty", enabled: cfg.PagerDuty.Enabled, build: func() (notify.Sink, error) {
			return pagerduty.NewClient(pagerduty.Config{
				RoutingKey: cfg.PagerDuty.RoutingKey,
				Source:     cfg.PagerDuty.Source,
				Component:  cfg.PagerDuty.Component,
				Timeout:    cfg.Timeout,
				RetryLimit: cfg.RetryLimit,
			})
		}},
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, len(candidates))
	for _, c := range candidates {
		if !c.enabled {
			continue
		}
		sink, err := c.build()
		if err != nil {
			logger.Error("notification sink disabled", "sink", c.name, "error", err)
			continue
		}
		sinks = append(sinks, failurenotifier.SinkRegistration{Name: c.name, Sink: sink})
	}
	return sinks
}

// buildScrapers loads the scraper registry from the optional YAML file.
func buildScrapers(cfg config.ScraperConfig, client *http.Client, logger *slog.Logger) (*scraper.Registry, error) {
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if cfg.ConfigFile == "" {
		logger.Warn("no SCRAPER_CONFIG_FILE set; every job will fail with an unknown source")
		return scraper.NewFromConfig(nil, client, logger)
	}
	fileCfg, err := scraper.LoadFile(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	return scraper.NewFromConfig(fileCfg, client, logger)
}

// NewServices builds storage and every service, and connects the event bus to the webhook dispatcher.
func NewServices(ctx context.Context, deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return nil, errors.New("service deps with config are required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = core.RealTimeProvider{}
	}

	secrets, err := CreateSecretBox(cfg.SubscriptionSecretKey, logger)
	if err != nil {
		return nil, err
	}
	storage, err := BuildStorage(ctx, StorageDeps{
		Store:       cfg.Store,
		Cache:       cfg.Cache,
		DB:          deps.DB,
		RedisClient: deps.RedisClient,
		Secrets:     secrets,
		Clock:       clock,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build storage: %w", err)
	}

	c, err := buildServices(deps, storage, clock, logger)
	if err != nil {
		return nil, errors.Join(err, storage.Close())
	}
	return c, nil
}

func buildServices(
	deps *ServiceDeps,
	storage *Storage,
	clock core.TimeProvider,
	logger *slog.Logger,
) (*ServiceContainer, error) {
	cfg := deps.Config
	obs := buildObservability(logger, cfg.Observability)
	sched := timer.New(logger)
	bus := eventbus.New(logger)

	scrapers, err := buildScrapers(cfg.Scrapers, deps.HTTPClient, logger)
	if err != nil {
		return nil, fmt.Errorf("build scrapers: %w", err)
	}

	deliveries, err := service.NewDeliveryWorker(service.DeliveryWorkerOptions{
		Deliveries:    storage.Deliveries,
		Subscriptions: storage.Subscriptions,
		Client:        deps.HTTPClient,
		Timer:         sched,
		Clock:         clock,
		Metrics:       obs.Collector,
		Logger:        logger,
		Config:        cfg.Delivery,
	})
	if err != nil {
		return nil, fmt.Errorf("wire delivery worker: %w", err)
	}

	dispatcher, err := service.NewWebhookDispatcher(service.WebhookDispatcherOptions{
		Subscriptions: storage.Subscriptions,
		Deliveries:    deliveries,
		Concurrency:   cfg.Delivery.FanoutConcurrency,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wire webhook dispatcher: %w", err)
	}
	bus.Subscribe(eventbus.Wildcard, dispatcher.HandleAsync)

	orchestrator, err := service.NewJobOrchestrator(service.JobOrchestratorOptions{
		Jobs:    storage.Jobs,
		Records: storage.Records,
		Scraper: scrapers,
		Events:  bus,
		Timer:   sched,
		Clock:   clock,
		Metrics: obs.Collector,
		Logger:  logger,
		Config:  cfg.Orchestrator,

		FailureNotifier: obs.FailureNotifier,
	})
	if err != nil {
		return nil, fmt.Errorf("wire job orchestrator: %w", err)
	}

	calls, err := service.NewCallSummaryService(service.CallSummaryServiceOptions{
		Activities: storage.Activities,
		Events:     bus,
		Guard:      storage.Guard,
		GuardTTL:   cfg.Cache.CallSummaryGuardTTL,
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wire call summary service: %w", err)
	}

	c := &ServiceContainer{
		Storage:       storage,
		Bus:           bus,
		Timer:         sched,
		Scrapers:      scrapers,
		Deliveries:    deliveries,
		Dispatcher:    dispatcher,
		Orchestrator:  orchestrator,
		Calls:         calls,
		Observability: obs,
	}

	// Without a local runner, submitted jobs stay queued for a job-runner process to sweep.
	if cfg.IsJobRunnerEnabled() {
		runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
			Executor:         orchestrator,
			Jobs:             storage.Jobs,
			Clock:            clock,
			Logger:           logger,
			Concurrency:      cfg.Runner.Concurrency,
			QueueSize:        cfg.Runner.QueueSize,
			SweepInterval:    cfg.Runner.SweepInterval,
			ExecutionTimeout: cfg.Runner.ExecutionTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("wire job runner: %w", err)
		}
		orchestrator.SetQueue(runner)
		c.Runner = runner
	}
	return c, nil
}

// Close stops pending timers, drains in-flight webhook dispatches and releases storage.
func (c *ServiceContainer) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Timer != nil {
		c.Timer.Stop()
	}
	if c.Dispatcher != nil {
		if err := c.Dispatcher.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain webhook dispatches: %w", err))
		}
	}
	if c.Observability.MetricsSink != nil {
		if err := c.Observability.MetricsSink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close statsd: %w", err))
		}
	}
	if err := c.Storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}
