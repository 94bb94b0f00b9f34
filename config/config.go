// Package config defines the environment-driven application configuration.
package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: storage drivers, Postgres and Redis
//   - http.go: HTTP server configuration
//   - services.go: service modes, orchestrator, runner, delivery, scrapers and reaper
//   - observability.go: metrics
type AppConfig struct {
	// IsDev controls development mode behavior.
	IsDev bool `env:"DEV" envDefault:"false"`

	// SubscriptionSecretKey seals webhook signing secrets at rest. A 64-character hex
	// value is used as the raw AES-256 key; any other value is hashed to 32 bytes.
	// Empty means secrets are stored and read as plaintext.
	SubscriptionSecretKey string `env:"SUBSCRIPTION_SECRET_KEY"`

	// Services is a comma-delimited list of enabled services.
	Services string `env:"SERVICES" envDefault:"http,job-runner"`

	Store    StoreConfig
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Cache    CacheConfig

	HTTP HTTPConfig

	Orchestrator OrchestratorConfig
	Runner       JobRunnerConfig
	Delivery     DeliveryConfig
	Scrapers     ScraperConfig
	Reaper       ReaperConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Store.Sanitize()
	c.HTTP.Sanitize()
	c.Orchestrator.Sanitize()
	c.Runner.Sanitize()
	c.Delivery.Sanitize()
	c.Scrapers.Sanitize()
	c.Reaper.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode falls back to GO_ENV when DEV is unset.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		goEnv := strings.ToLower(os.Getenv("GO_ENV"))
		c.IsDev = goEnv == "development" || goEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	return c.serviceEnabled(ServiceModeHTTP)
}

// IsJobRunnerEnabled returns true if the job runner service is enabled.
func (c *AppConfig) IsJobRunnerEnabled() bool {
	return c.serviceEnabled(ServiceModeJobRunner)
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	return c.serviceEnabled(ServiceModeReaper)
}

func (c *AppConfig) serviceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}
