// Package rediscache shares query results between API replicas through Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/covid-state-etl/internal/query"
)

const keyPrefix = "covid-etl:query:"

// client is the subset of redis.Cmdable the cache uses.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Cache implements query.Cache on Redis. Failures are logged and treated as
// misses so a Redis outage never fails a query.
type Cache struct {
	rdb    client
	closer func() error
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to the Redis server at url (redis://host:port/db) and pings it.
func New(ctx context.Context, url string, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{rdb: rdb, closer: rdb.Close, ttl: ttl, logger: logger}, nil
}

func newWithClient(rdb client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, closer: func() error { return nil }, ttl: ttl, logger: logger}
}

// Get returns the cached result for key, if any.
func (c *Cache) Get(ctx context.Context, key string) (*query.Result, bool) {
	data, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("redis get failed", "key", key, "error", err)
		return nil, false
	}

	var r query.Result
	if err := json.Unmarshal(data, &r); err != nil {
		c.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return nil, false
	}
	return &r, true
}

// Set stores r under key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, r *query.Result) {
	data, err := json.Marshal(r)
	if err != nil {
		c.logger.Warn("encode cache entry", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", "key", key, "error", err)
	}
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.closer()
}
