// Package bootstrap wires configuration, storage and services into a running process.
package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/target/listing-relay/config"
)

// InitLogger installs a JSON slog logger on stdout as the default.
// LOG_LEVEL (debug, info, warn, error) is read directly because logging starts before config parsing.
func InitLogger() *slog.Logger {
	level := slog.LevelInfo
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			level = slog.LevelInfo
		}
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// LoadConfig reads an optional .env file (or ENV_FILE), parses the environment and sanitizes the result.
// Variables already set in the environment win over the file.
func LoadConfig() (config.AppConfig, error) {
	var cfg config.AppConfig
	if err := loadDotEnv(strings.TrimSpace(os.Getenv("ENV_FILE"))); err != nil {
		return cfg, err
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

func loadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

// ValidateServiceConfig rejects configurations that cannot run: no services, unknown drivers,
// or an in-memory store split across processes that could never see each other's jobs.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if len(services) == 0 {
		return errors.New("no services enabled")
	}
	if err := cfg.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store configuration: %w", err)
	}
	if cfg.Store.Driver == config.DriverMemory &&
		services[config.ServiceModeHTTP] != services[config.ServiceModeJobRunner] {
		return errors.New("memory store requires http and job-runner in the same process")
	}
	return nil
}

// GetEnabledServices returns the enabled service names sorted, or none when SERVICES is invalid.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return []string{}
	}
	enabled := make([]string, 0, len(services))
	for mode, on := range services {
		if on {
			enabled = append(enabled, string(mode))
		}
	}
	slices.Sort(enabled)
	return enabled
}
