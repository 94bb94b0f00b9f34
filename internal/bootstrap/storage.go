package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/data"
	"github.com/target/listing-relay/internal/data/cryptoutil"
	"github.com/target/listing-relay/internal/data/memory"
	"github.com/target/listing-relay/internal/data/sqlite"
)

// Storage groups the repositories backing service ports.
type Storage struct {
	Jobs          core.JobRepository
	Records       core.RecordStore
	Subscriptions core.SubscriptionRegistry
	Deliveries    core.DeliveryRepository
	Activities    core.ActivityRepository
	Guard         core.KeyGuard

	// Memory is set when STORE_DRIVER=memory so callers can seed subscriptions.
	Memory *memory.Store

	closers []func() error
}

// StorageDeps groups dependencies for BuildStorage.
type StorageDeps struct {
	Store       config.StoreConfig
	Cache       config.CacheConfig
	DB          *sql.DB               // Required when a driver is postgres
	RedisClient redis.UniversalClient // Optional: enables the subscription cache and the Redis guard
	Secrets     *cryptoutil.SecretBox // Optional: opens sealed subscription secrets
	Clock       core.TimeProvider     // Optional: clock for the in-process guard
	Logger      *slog.Logger
}

// BuildStorage selects the storage backends named by the store configuration.
func BuildStorage(ctx context.Context, deps StorageDeps) (*Storage, error) {
	if err := deps.Store.Validate(); err != nil {
		return nil, err
	}
	if deps.Store.NeedsPostgres() && deps.DB == nil {
		return nil, errors.New("postgres storage selected but no database connection is available")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = core.RealTimeProvider{}
	}

	st := &Storage{}
	switch deps.Store.Driver {
	case config.DriverPostgres:
		st.Jobs = data.NewJobRepo(deps.DB)
		st.Subscriptions = data.NewSubscriptionRepo(deps.DB, deps.Secrets)
		st.Deliveries = data.NewDeliveryRepo(deps.DB)
		st.Activities = data.NewActivityRepo(deps.DB)
	case config.DriverMemory:
		st.Memory = memory.NewStore()
		st.Jobs = st.Memory.Jobs()
		st.Subscriptions = st.Memory.Subscriptions()
		st.Deliveries = st.Memory.Deliveries()
		st.Activities = st.Memory.Activities()
	}

	switch deps.Store.RecordDriver {
	case config.DriverPostgres:
		st.Records = data.NewRecordRepo(deps.DB)
	case config.DriverSQLite:
		rs, err := sqlite.Open(ctx, deps.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite record store: %w", err)
		}
		st.Records = rs
		st.closers = append(st.closers, rs.Close)
	case config.DriverMemory:
		if st.Memory == nil {
			st.Memory = memory.NewStore()
		}
		st.Records = st.Memory.Records()
	}

	if deps.RedisClient != nil {
		cache := data.NewRedisCacheRepo(deps.RedisClient, data.DefaultRedisNamespace)
		st.Subscriptions = data.NewCachedSubscriptionRegistry(data.SubscriptionCacheOptions{
			Next:    st.Subscriptions,
			Cache:   cache,
			TTL:     deps.Cache.SubscriptionTTL,
			Secrets: deps.Secrets,
			Logger:  logger,
		})
		st.Guard = data.NewRedisKeyGuard(cache)
	} else {
		st.Guard = memory.NewKeyGuard(clock)
	}

	logger.InfoContext(ctx, "storage configured",
		"store_driver", deps.Store.Driver,
		"record_driver", deps.Store.RecordDriver,
		"redis", deps.RedisClient != nil,
	)
	return st, nil
}

// Close releases backends opened by BuildStorage. Shared connections are owned by the caller.
func (s *Storage) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
