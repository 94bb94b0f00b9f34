package config

import (
	"fmt"
	"strings"
	"time"
)

// Storage driver names.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
)

// StoreConfig selects the storage backends.
type StoreConfig struct {
	// Driver backs jobs, subscriptions, deliveries and activities: postgres or memory.
	Driver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// RecordDriver backs scraped records: postgres, sqlite or memory. Empty follows Driver.
	RecordDriver string `env:"RECORD_STORE_DRIVER"`

	// SQLitePath is the database file used when RecordDriver is sqlite.
	SQLitePath string `env:"RECORD_STORE_SQLITE_PATH" envDefault:"listingrelay-records.db"`
}

// Sanitize normalises driver names.
func (s *StoreConfig) Sanitize() {
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	if s.Driver == "" {
		s.Driver = DriverPostgres
	}
	s.RecordDriver = strings.ToLower(strings.TrimSpace(s.RecordDriver))
	if s.RecordDriver == "" {
		s.RecordDriver = s.Driver
	}
	s.SQLitePath = strings.TrimSpace(s.SQLitePath)
}

// Validate reports unknown drivers.
func (s *StoreConfig) Validate() error {
	switch s.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q (valid options: postgres, memory)", s.Driver)
	}
	switch s.RecordDriver {
	case DriverPostgres, DriverMemory:
	case DriverSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("RECORD_STORE_SQLITE_PATH is required for the sqlite record store")
		}
	default:
		return fmt.Errorf("invalid RECORD_STORE_DRIVER %q (valid options: postgres, sqlite, memory)", s.RecordDriver)
	}
	return nil
}

// NeedsPostgres reports whether any backend requires a Postgres connection.
func (s *StoreConfig) NeedsPostgres() bool {
	return s.Driver == DriverPostgres || s.RecordDriver == DriverPostgres
}

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"listingrelay"`
	Password string `env:"PASSWORD"                envDefault:"listingrelay"`
	Name     string `env:"NAME"                    envDefault:"listingrelay"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`

	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"    envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT"   envDefault:"5s"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	Enabled            bool     `env:"ENABLED"              envDefault:"false"`
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// CacheConfig contains TTLs for the Redis-backed helpers.
type CacheConfig struct {
	// SubscriptionTTL is how long active subscriptions per event type are cached.
	SubscriptionTTL time.Duration `env:"SUBSCRIPTION_CACHE_TTL" envDefault:"30s"`

	// CallSummaryGuardTTL bounds how long one call summary emission holds its guard key.
	CallSummaryGuardTTL time.Duration `env:"CALL_SUMMARY_GUARD_TTL" envDefault:"30s"`
}
