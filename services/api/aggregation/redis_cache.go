package aggregation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const scanBatch = 500

// RedisCache stores results as JSON strings with a native redis TTL, so
// expiry is passive and survives process restarts.
type RedisCache struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisCache wraps client. namespace is prepended to every key
// ("gridpulse" gives "gridpulse:agg:PLANT:p1:1h").
func NewRedisCache(client redis.UniversalClient, namespace string) *RedisCache {
	return &RedisCache{client: client, namespace: namespace}
}

// Ping checks if the redis connection is alive.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

func (c *RedisCache) strip(k string) string {
	if c.namespace == "" {
		return k
	}
	return k[len(c.namespace)+1:]
}

func (c *RedisCache) Get(ctx context.Context, key Key) (Result, bool, error) {
	data, err := c.client.Get(ctx, c.key(key.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return res, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key Key, res Result, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key.String()), data, ttl).Err()
}

// Delete removes every key the selector matches. Keys are found with SCAN so
// a large keyspace never blocks the server.
func (c *RedisCache) Delete(ctx context.Context, sel Selector) (int, error) {
	matched, err := c.scan(ctx, sel.Pattern())
	if err != nil {
		return 0, err
	}
	victims := make([]string, 0, len(matched))
	for _, raw := range matched {
		if k, ok := ParseKey(c.strip(raw)); ok && sel.Matches(k) {
			victims = append(victims, raw)
		}
	}
	deleted := 0
	for start := 0; start < len(victims); start += scanBatch {
		end := start + scanBatch
		if end > len(victims) {
			end = len(victims)
		}
		n, err := c.client.Del(ctx, victims[start:end]...).Result()
		if err != nil {
			return deleted, err
		}
		deleted += int(n)
	}
	return deleted, nil
}

func (c *RedisCache) Keys(ctx context.Context) ([]Key, error) {
	raw, err := c.scan(ctx, Selector{}.Pattern())
	if err != nil {
		return nil, err
	}
	keys := make([]Key, 0, len(raw))
	for _, r := range raw {
		if k, ok := ParseKey(c.strip(r)); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (c *RedisCache) scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.key(pattern), scanBatch).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}
