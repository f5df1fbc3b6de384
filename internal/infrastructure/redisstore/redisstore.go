package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-otp-bridge/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewClient builds a redis client from config. It returns nil when no address
// is configured; callers treat a nil client as "redis disabled".
func NewClient(ctx context.Context, cfg *config.Config) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Cooldown is a per-key send throttle built on SET NX PX.
type Cooldown struct {
	client redis.UniversalClient
	prefix string
}

func NewCooldown(client redis.UniversalClient, prefix string) *Cooldown {
	if prefix == "" {
		prefix = "otp_cooldown"
	}
	return &Cooldown{client: client, prefix: prefix}
}

// Acquire reports whether key was free and is now held for ttl.
func (c *Cooldown) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.key(key), time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown acquire: %w", err)
	}
	return ok, nil
}

// Release frees key so a failed send does not lock the caller out.
func (c *Cooldown) Release(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cooldown release: %w", err)
	}
	return nil
}

func (c *Cooldown) key(k string) string {
	return fmt.Sprintf("%s:%s", c.prefix, k)
}

// TokenCache keeps short-lived provider credentials.
type TokenCache struct {
	client redis.UniversalClient
	prefix string
}

func NewTokenCache(client redis.UniversalClient, prefix string) *TokenCache {
	if prefix == "" {
		prefix = "provider_token"
	}
	return &TokenCache{client: client, prefix: prefix}
}

// Get returns the cached value and whether it was present.
func (c *TokenCache) Get(ctx context.Context, name string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *TokenCache) Set(ctx context.Context, name, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.key(name), value, ttl).Err()
}

func (c *TokenCache) Delete(ctx context.Context, name string) error {
	return c.client.Del(ctx, c.key(name)).Err()
}

func (c *TokenCache) key(name string) string {
	return fmt.Sprintf("%s:%s", c.prefix, name)
}
