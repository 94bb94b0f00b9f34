package data

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/listing-relay/internal/core"
)

const guardKeyPrefix = "guard:"

// RedisKeyGuard grants short-lived exclusive keys across processes.
// Each acquisition stores a random owner token, so a holder whose TTL lapsed
// cannot release a key someone else has since acquired.
type RedisKeyGuard struct {
	cache *RedisCacheRepo

	mu     sync.Mutex
	owners map[string]string
}

// NewRedisKeyGuard creates a RedisKeyGuard backed by cache.
func NewRedisKeyGuard(cache *RedisCacheRepo) *RedisKeyGuard {
	return &RedisKeyGuard{cache: cache, owners: make(map[string]string)}
}

var _ core.KeyGuard = (*RedisKeyGuard)(nil)

// TryAcquire reports whether the caller now holds key for up to ttl.
func (g *RedisKeyGuard) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := g.cache.SetIfNotExists(ctx, guardKeyPrefix+key, []byte(token), ttl)
	if err != nil || !ok {
		return false, err
	}
	g.mu.Lock()
	g.owners[key] = token
	g.mu.Unlock()
	return true, nil
}

// Release drops key if this guard still owns it. Releasing an unowned key is a no-op.
func (g *RedisKeyGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	token, ok := g.owners[key]
	delete(g.owners, key)
	g.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := g.cache.DeleteIfValue(ctx, guardKeyPrefix+key, []byte(token))
	return err
}
