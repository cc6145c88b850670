package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "idemp"

var ErrRedisSetFailed = errors.New("failed to set idempotency key in redis")

// RedisGuard keeps keys as {namespace}:idemp:{key} with a TTL. SETNX makes
// the first recorded message id stick.
type RedisGuard struct {
	client    *redis.Client
	Namespace string
	TTL       time.Duration
}

func NewRedisGuard(client *redis.Client, namespace string, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, Namespace: namespace, TTL: ttl}
}

func (g *RedisGuard) key(k string) string {
	return strings.Join([]string{g.Namespace, keyPrefix, k}, ":")
}

func (g *RedisGuard) Record(ctx context.Context, key, messageID string) error {
	if _, err := g.client.SetNX(ctx, g.key(key), messageID, g.TTL).Result(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisSetFailed, err)
	}
	return nil
}

func (g *RedisGuard) Lookup(ctx context.Context, key string) (string, bool, error) {
	v, err := g.client.Get(ctx, g.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return v, true, nil
}

var _ Guard = (*RedisGuard)(nil)
