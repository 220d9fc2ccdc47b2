// Package cache keeps the latest analysis snapshot per symbol and timeframe
// in Redis, with an in-memory fallback while Redis is unreachable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"structure-engine/internal/engine"
	"structure-engine/internal/market"
)

// SnapshotKeyPrefix prefixes every snapshot key.
// Format: structure:snapshot:{symbol}:{timeframe}
const SnapshotKeyPrefix = "structure:snapshot"

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	PoolSize int    `json:"pool_size" yaml:"pool_size"`
}

// NewRedisClient builds a client, or returns nil when Redis is disabled.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// TTL keeps a snapshot for about two bars of its timeframe.
func TTL(tf market.Timeframe) time.Duration {
	if d := tf.Duration(); d > 0 {
		return 2 * d
	}
	return 2 * time.Minute
}

type entry struct {
	snap      engine.Snapshot
	expiresAt time.Time
}

// SnapshotCache stores snapshots. Writes always land in memory; Redis is
// written and read while it answers, and retried on the next call after a
// failure is seen.
type SnapshotCache struct {
	client         *redis.Client
	mu             sync.RWMutex
	mem            map[string]entry
	redisAvailable atomic.Bool
	logger         zerolog.Logger
	now            func() time.Time
}

// NewSnapshotCache creates a cache. A nil client means memory only.
func NewSnapshotCache(client *redis.Client, logger zerolog.Logger) *SnapshotCache {
	c := &SnapshotCache{
		client: client,
		mem:    make(map[string]entry),
		logger: logger.With().Str("component", "SnapshotCache").Logger(),
		now:    time.Now,
	}
	if client == nil {
		c.logger.Info().Msg("No Redis client provided, using in-memory cache only")
		return c
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Redis unavailable at startup, using in-memory cache")
	} else {
		c.redisAvailable.Store(true)
	}
	return c
}

// RedisAvailable reports whether the last Redis call succeeded.
func (c *SnapshotCache) RedisAvailable() bool {
	return c.redisAvailable.Load()
}

func key(symbol string, tf market.Timeframe) string {
	return fmt.Sprintf("%s:%s:%s", SnapshotKeyPrefix, symbol, tf)
}

// Set stores a snapshot. Redis failures are logged, never returned.
func (c *SnapshotCache) Set(ctx context.Context, snap engine.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	k := key(snap.Symbol, snap.Timeframe)
	ttl := TTL(snap.Timeframe)

	c.mu.Lock()
	c.mem[k] = entry{snap: snap, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	if err := c.client.Set(ctx, k, data, ttl).Err(); err != nil {
		c.markDown(err)
		return nil
	}
	c.redisAvailable.Store(true)
	return nil
}

// Get returns the cached snapshot, if any.
func (c *SnapshotCache) Get(ctx context.Context, symbol string, tf market.Timeframe) (engine.Snapshot, bool, error) {
	k := key(symbol, tf)
	if c.client != nil {
		data, err := c.client.Get(ctx, k).Bytes()
		switch {
		case err == nil:
			c.redisAvailable.Store(true)
			var snap engine.Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return engine.Snapshot{}, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
			}
			return snap, true, nil
		case errors.Is(err, redis.Nil):
			c.redisAvailable.Store(true)
		default:
			c.markDown(err)
		}
	}

	c.mu.RLock()
	e, ok := c.mem[k]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return engine.Snapshot{}, false, nil
	}
	return e.snap, true, nil
}

func (c *SnapshotCache) markDown(err error) {
	if c.redisAvailable.Swap(false) {
		c.logger.Warn().Err(err).Msg("Redis call failed, falling back to in-memory cache")
	}
}
