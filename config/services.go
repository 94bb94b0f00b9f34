package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeJobRunner runs the scrape job worker pool and sweep.
	ServiceModeJobRunner ServiceMode = "job-runner"
	// ServiceModeReaper runs the job reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// MaxDeliveryAutoRetries caps DELIVERY_AUTO_RETRY_LIMIT.
const MaxDeliveryAutoRetries = 5

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeJobRunner, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for part := range strings.SplitSeq(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeJobRunner, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, job-runner, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// OrchestratorConfig controls job execution and retry.
type OrchestratorConfig struct {
	// MaxAttempts is the number of failed executions after which a job is terminally failed.
	MaxAttempts int `env:"JOB_MAX_ATTEMPTS" envDefault:"3"`

	// BackoffStep is multiplied by the attempt number to get the retry delay.
	BackoffStep time.Duration `env:"JOB_BACKOFF_STEP" envDefault:"1s"`

	// StatsLogEvery logs aggregate run stats after every N executions.
	StatsLogEvery int `env:"JOB_STATS_LOG_EVERY" envDefault:"10"`

	// AddressPath is the gjson path of the address field in scraped items.
	AddressPath string `env:"JOB_ADDRESS_PATH" envDefault:"address"`
}

// Sanitize applies guardrails to orchestrator configuration values.
func (o *OrchestratorConfig) Sanitize() {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.BackoffStep <= 0 {
		o.BackoffStep = time.Second
	}
	if o.StatsLogEvery < 1 {
		o.StatsLogEvery = 10
	}
	if o.AddressPath = strings.TrimSpace(o.AddressPath); o.AddressPath == "" {
		o.AddressPath = "address"
	}
}

// JobRunnerConfig controls the in-process job worker pool.
type JobRunnerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"JOB_RUNNER_CONCURRENCY" envDefault:"4"`

	// QueueSize bounds the in-process queue; overflow is picked up by the sweep.
	QueueSize int `env:"JOB_RUNNER_QUEUE_SIZE" envDefault:"256"`

	// SweepInterval is how often queued jobs past next_run_at are re-enqueued.
	SweepInterval time.Duration `env:"JOB_RUNNER_SWEEP_INTERVAL" envDefault:"5s"`

	// ExecutionTimeout bounds one job execution, including during shutdown.
	ExecutionTimeout time.Duration `env:"JOB_RUNNER_EXECUTION_TIMEOUT" envDefault:"2m"`
}

// Sanitize applies guardrails to runner configuration values.
func (r *JobRunnerConfig) Sanitize() {
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.QueueSize < 1 {
		r.QueueSize = 1
	}
	if r.SweepInterval < 100*time.Millisecond {
		r.SweepInterval = 100 * time.Millisecond
	}
	if r.ExecutionTimeout < time.Second {
		r.ExecutionTimeout = time.Second
	}
}

// DeliveryConfig controls webhook delivery.
type DeliveryConfig struct {
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"10s"`

	// FanoutConcurrency limits parallel deliveries per event.
	FanoutConcurrency int `env:"DELIVERY_FANOUT_CONCURRENCY" envDefault:"8"`

	// BulkLimit caps how many rows retry-all and replay-all touch per call.
	BulkLimit int `env:"DELIVERY_BULK_LIMIT" envDefault:"500"`

	// AutoRetryLimit is the number of automatic retries after a failed attempt (0 disables).
	AutoRetryLimit int `env:"DELIVERY_AUTO_RETRY_LIMIT" envDefault:"0"`

	// AutoRetryInitial and AutoRetryMax bound the exponential auto-retry delay.
	AutoRetryInitial time.Duration `env:"DELIVERY_AUTO_RETRY_INITIAL" envDefault:"2s"`
	AutoRetryMax     time.Duration `env:"DELIVERY_AUTO_RETRY_MAX"     envDefault:"1m"`

	// HostRPS and HostBurst configure the per-host outbound rate limiter.
	HostRPS   float64 `env:"DELIVERY_HOST_RPS"   envDefault:"10"`
	HostBurst int     `env:"DELIVERY_HOST_BURST" envDefault:"20"`

	// UserAgent is sent with every delivery.
	UserAgent string `env:"DELIVERY_USER_AGENT" envDefault:"listing-relay-webhooks/1.0"`
}

// Sanitize applies guardrails to delivery configuration values.
func (d *DeliveryConfig) Sanitize() {
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	if d.FanoutConcurrency < 1 {
		d.FanoutConcurrency = 1
	}
	if d.BulkLimit < 1 {
		d.BulkLimit = 500
	}
	d.AutoRetryLimit = max(0, min(d.AutoRetryLimit, MaxDeliveryAutoRetries))
	if d.AutoRetryInitial <= 0 {
		d.AutoRetryInitial = 2 * time.Second
	}
	if d.AutoRetryMax < d.AutoRetryInitial {
		d.AutoRetryMax = d.AutoRetryInitial
	}
	if d.HostRPS <= 0 {
		d.HostRPS = 10
	}
	if d.HostBurst < 1 {
		d.HostBurst = 1
	}
	if d.UserAgent = strings.TrimSpace(d.UserAgent); d.UserAgent == "" {
		d.UserAgent = "listing-relay-webhooks/1.0"
	}
}

// ScraperConfig controls the scraper adapter registry.
type ScraperConfig struct {
	// ConfigFile is an optional YAML file describing scraper sources.
	ConfigFile string `env:"SCRAPER_CONFIG_FILE"`

	// HTTPTimeout bounds each outbound scrape request.
	HTTPTimeout time.Duration `env:"SCRAPER_HTTP_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to scraper configuration values.
func (s *ScraperConfig) Sanitize() {
	s.ConfigFile = strings.TrimSpace(s.ConfigFile)
	if s.HTTPTimeout <= 0 {
		s.HTTPTimeout = 30 * time.Second
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// StaleRunningAfter requeues running jobs whose started_at is older than this.
	StaleRunningAfter time.Duration `env:"REAPER_STALE_RUNNING_AFTER" envDefault:"30m"`

	// TerminalJobMaxAge deletes completed and failed jobs older than this. Zero disables deletion.
	TerminalJobMaxAge time.Duration `env:"REAPER_TERMINAL_JOB_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to delete per statement.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`

	// StaleDeliveryAfter fails pending deliveries untouched for this long so operators can retry them.
	// Zero disables the step.
	StaleDeliveryAfter time.Duration `env:"REAPER_STALE_DELIVERY_AFTER" envDefault:"15m"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	if r.StaleRunningAfter < 5*time.Minute {
		r.StaleRunningAfter = 5 * time.Minute
	}
	if r.TerminalJobMaxAge < 0 {
		r.TerminalJobMaxAge = 0
	} else if r.TerminalJobMaxAge > 0 && r.TerminalJobMaxAge < time.Hour {
		r.TerminalJobMaxAge = time.Hour
	}

	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}

	if r.StaleDeliveryAfter < 0 {
		r.StaleDeliveryAfter = 0
	} else if r.StaleDeliveryAfter > 0 && r.StaleDeliveryAfter < time.Minute {
		r.StaleDeliveryAfter = time.Minute
	}
}
