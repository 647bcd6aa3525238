// Package cache is the shared key-value store used by the processor for
// idempotency markers and counters. Every operation touches one key and
// is atomic on the server; nothing here spans keys.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable wraps any failure to reach or talk to the cache.
	ErrUnavailable = errors.New("cache unavailable")

	ErrNotFound = errors.New("cache key not found")
)

// incrementScript bumps a counter and sets its expiry only when the key
// is created, so later increments do not extend the window.
var incrementScript = redis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	local ttl = tonumber(ARGV[1])
	if n == 1 and ttl > 0 then
		redis.call('PEXPIRE', KEYS[1], ttl)
	end
	return n
`)

type Config struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// Redis implements the processor's cache contract on a single Redis
// endpoint.
type Redis struct {
	client *redis.Client
}

// NewRedis connects and pings the endpoint.
func NewRedis(cfg Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis connection to %s failed: %w", ErrUnavailable, cfg.Addr, err)
	}

	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return b, nil
}

// SetIfAbsent stores value under key only if key does not exist. A ttl
// of zero means no expiry. It reports whether the value was stored.
func (c *Redis) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, unavailable("setnx", err)
	}
	return ok, nil
}

// Increment adds one to the counter at key and returns the new value.
// ttl applies from the first increment.
func (c *Redis) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := incrementScript.Run(ctx, c.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable("incr", err)
	}
	return n, nil
}

// Expire sets a ttl on an existing key and reports whether it existed.
func (c *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, unavailable("expire", err)
	}
	return ok, nil
}

func (c *Redis) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

func (c *Redis) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (c *Redis) Close() error {
	return c.client.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
