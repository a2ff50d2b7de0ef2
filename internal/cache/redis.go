package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache over a Redis connection.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisCache connects to Redis and verifies connectivity, failing fast
// on startup.
func NewRedisCache(ctx context.Context, host string, port int, password string) (*RedisCache, error) {
	if host == "" {
		return nil, fmt.Errorf("redis host missing")
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger := slog.Default().With("component", "redis")
	logger.Info("redis client connected", "addr", addr)

	return &RedisCache{client: client, logger: logger}, nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.logger.Debug("cache miss", "key", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(val), target); err != nil {
		return false, fmt.Errorf("unmarshal cached value for key %s: %w", key, err)
	}

	c.logger.Debug("cache hit", "key", key)
	return true, nil
}

// SetWithTTL implements Cache.
func (c *RedisCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for key %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}
	c.logger.Debug("cache set", "key", key, "ttl", ttl)
	return nil
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete failed for key %s: %w", key, err)
	}
	return nil
}

// Close implements Cache.
func (c *RedisCache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	c.logger.Info("redis client closed")
	return nil
}

// HealthCheck verifies Redis connectivity for the health endpoint.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
