// Package redis connects depot-core to the Redis instance shared between
// server replicas. It currently backs the failed-login throttle.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/depot-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultPingTimeout    = 2 * time.Second
	defaultPrefix         = "depot"
)

var (
	// ErrDisabled indicates Redis is switched off in configuration.
	ErrDisabled = errors.New("redis: disabled in configuration")

	// ErrConnectionFailed indicates the initial ping did not succeed.
	ErrConnectionFailed = errors.New("redis: connection failed")
)

// Client owns a go-redis connection pool plus the key prefix every
// depot-core key is namespaced under.
type Client struct {
	rdb    *goredis.Client
	prefix string
}

// Connect opens a pool and pings the server once.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Addr, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Client{rdb: rdb, prefix: prefix}, nil
}

// Redis exposes the underlying client for packages that issue commands.
func (c *Client) Redis() goredis.UniversalClient {
	return c.rdb
}

// Prefix returns the key namespace, e.g. "depot".
func (c *Client) Prefix() string {
	return c.prefix
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("redis health check failed: not connected")
	}
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := c.rdb.Ping(checkCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close releases the pool. Safe on nil.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if err := c.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return fmt.Errorf("closing redis: %w", err)
	}
	return nil
}
