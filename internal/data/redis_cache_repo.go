package data

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisNamespace prefixes every key this service writes.
const DefaultRedisNamespace = "listingrelay"

var errEmptyKey = errors.New("redis key cannot be empty")

// RedisCacheRepo stores opaque bytes under a key namespace so several deployments can share one Redis.
type RedisCacheRepo struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisCacheRepo creates a RedisCacheRepo. An empty namespace uses DefaultRedisNamespace.
func NewRedisCacheRepo(client redis.UniversalClient, namespace string) *RedisCacheRepo {
	namespace = strings.Trim(strings.TrimSpace(namespace), ":")
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	return &RedisCacheRepo{client: client, namespace: namespace}
}

func (r *RedisCacheRepo) key(k string) (string, error) {
	if strings.TrimSpace(k) == "" {
		return "", errEmptyKey
	}
	return r.namespace + ":" + k, nil
}

// Set stores value under key for ttl.
func (r *RedisCacheRepo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k, err := r.key(key)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, k, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", k, err)
	}
	return nil
}

// Get returns the value under key, or nil on a miss.
func (r *RedisCacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := r.key(key)
	if err != nil {
		return nil, err
	}
	b, err := r.client.Get(ctx, k).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", k, err)
	}
	return b, nil
}

// Delete removes keys and returns how many existed.
func (r *RedisCacheRepo) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, 0, len(keys))
	for _, key := range keys {
		k, err := r.key(key)
		if err != nil {
			return 0, err
		}
		full = append(full, k)
	}
	n, err := r.client.Del(ctx, full...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return n, nil
}

// SetIfNotExists writes value only when key is absent, with SET NX and a TTL of at least one second.
func (r *RedisCacheRepo) SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	k, err := r.key(key)
	if err != nil {
		return false, err
	}
	ok, err := r.client.SetNX(ctx, k, value, max(ttl, time.Second)).Result()
	if err != nil {
		return false, fmt.Errorf("redis set nx %s: %w", k, err)
	}
	return ok, nil
}

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DeleteIfValue removes key only if it still holds value and reports whether it did.
func (r *RedisCacheRepo) DeleteIfValue(ctx context.Context, key string, value []byte) (bool, error) {
	k, err := r.key(key)
	if err != nil {
		return false, err
	}
	n, err := compareAndDelete.Run(ctx, r.client, []string{k}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-delete %s: %w", k, err)
	}
	return n > 0, nil
}
