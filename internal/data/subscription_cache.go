package data

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/data/cryptoutil"
	"github.com/target/listing-relay/internal/domain/model"
)

const (
	subscriptionCachePrefix     = "subs:"
	defaultSubscriptionCacheTTL = 30 * time.Second
)

// SubscriptionCacheOptions configures a CachedSubscriptionRegistry.
type SubscriptionCacheOptions struct {
	Next  core.SubscriptionRegistry
	Cache *RedisCacheRepo
	TTL   time.Duration
	// Secrets seals signing secrets before they are written to Redis. Optional.
	Secrets *cryptoutil.SecretBox
	Logger  *slog.Logger
}

// CachedSubscriptionRegistry caches active-subscription lookups in Redis.
// Concurrent misses for one event type collapse into a single registry query.
// Cache failures fall through to the wrapped registry.
type CachedSubscriptionRegistry struct {
	next    core.SubscriptionRegistry
	cache   *RedisCacheRepo
	ttl     time.Duration
	secrets *cryptoutil.SecretBox
	group   singleflight.Group
	logger  *slog.Logger
}

// NewCachedSubscriptionRegistry creates a caching decorator around opts.Next.
func NewCachedSubscriptionRegistry(opts SubscriptionCacheOptions) *CachedSubscriptionRegistry {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultSubscriptionCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	secrets := opts.Secrets
	if secrets == nil {
		secrets = &cryptoutil.SecretBox{}
	}
	return &CachedSubscriptionRegistry{
		next:    opts.Next,
		cache:   opts.Cache,
		ttl:     ttl,
		secrets: secrets,
		logger:  logger.With("component", "subscription_cache"),
	}
}

var _ core.SubscriptionRegistry = (*CachedSubscriptionRegistry)(nil)

// cachedSubscription carries the secret, which the public JSON form omits.
type cachedSubscription struct {
	model.WebhookSubscription

	StoredSecret *string `json:"storedSecret,omitempty"`
}

// FindActive returns cached active subscriptions for eventType, loading them on a miss.
func (c *CachedSubscriptionRegistry) FindActive(
	ctx context.Context,
	eventType string,
) ([]*model.WebhookSubscription, error) {
	key := subscriptionCachePrefix + "event:" + eventType

	if subs, ok := c.load(ctx, key); ok {
		return subs, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		subs, err := c.next.FindActive(ctx, eventType)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, subs)
		return subs, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneSubscriptions(v.([]*model.WebhookSubscription)), nil
}

// GetByID is not cached; operators expect the current registry state.
func (c *CachedSubscriptionRegistry) GetByID(ctx context.Context, id string) (*model.WebhookSubscription, error) {
	return c.next.GetByID(ctx, id)
}

func (c *CachedSubscriptionRegistry) load(ctx context.Context, key string) ([]*model.WebhookSubscription, bool) {
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "subscription cache read failed", "key", key, "error", err)
		return nil, false
	}
	if raw == nil {
		return nil, false
	}

	var entries []cachedSubscription
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.logger.WarnContext(ctx, "subscription cache entry corrupt", "key", key, "error", err)
		return nil, false
	}

	out := make([]*model.WebhookSubscription, 0, len(entries))
	for i := range entries {
		sub := entries[i].WebhookSubscription
		if entries[i].StoredSecret != nil {
			plain, err := c.secrets.Open(*entries[i].StoredSecret)
			if err != nil {
				c.logger.WarnContext(ctx, "subscription cache secret unreadable", "key", key, "error", err)
				return nil, false
			}
			sub.Secret = &plain
		}
		out = append(out, &sub)
	}
	return out, true
}

func (c *CachedSubscriptionRegistry) store(ctx context.Context, key string, subs []*model.WebhookSubscription) {
	entries := make([]cachedSubscription, 0, len(subs))
	for _, s := range subs {
		entry := cachedSubscription{WebhookSubscription: *s}
		if s.Secret != nil {
			stored, err := c.secrets.Seal(*s.Secret)
			if errors.Is(err, cryptoutil.ErrNoKey) {
				stored, err = *s.Secret, nil
			}
			if err != nil {
				c.logger.WarnContext(ctx, "subscription cache seal failed", "key", key, "error", err)
				return
			}
			entry.StoredSecret = &stored
		}
		entries = append(entries, entry)
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "subscription cache write failed", "key", key, "error", err)
	}
}

func cloneSubscriptions(in []*model.WebhookSubscription) []*model.WebhookSubscription {
	out := make([]*model.WebhookSubscription, len(in))
	for i, s := range in {
		cp := *s
		out[i] = &cp
	}
	return out
}
