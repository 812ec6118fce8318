// Package cache keeps the latest scan snapshot in Redis and fans detected
// opportunities out over pub/sub for external consumers. The cache is
// strictly optional: a nil *Cache is a valid no-op instance, so the rest of
// the engine never branches on whether Redis is configured.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/croswell/dexarb/internal/config"
	"github.com/croswell/dexarb/pkg/types"
)

const latestScanKey = "dexarb:latest_scan"

// Snapshot is the cached result of the most recent completed sweep.
type Snapshot struct {
	BlockNumber   uint64               `json:"block_number"`
	ScannedAt     time.Time            `json:"scanned_at"`
	Opportunities []*types.Opportunity `json:"opportunities"`
}

// Cache wraps the Redis client. All methods are nil-safe.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	channel string
}

// New connects to Redis and verifies the connection. Returns (nil, nil) when
// no address is configured.
func New(ctx context.Context, cfg config.RedisConfig) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: connecting to redis at %s: %w", cfg.Addr, err)
	}
	return &Cache{client: client, ttl: cfg.TTL, channel: cfg.Channel}, nil
}

// SetLatestScan stores the snapshot under a fixed key with the configured TTL.
func (c *Cache) SetLatestScan(ctx context.Context, snap Snapshot) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache: encoding snapshot: %w", err)
	}
	if err := c.client.Set(ctx, latestScanKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: storing snapshot: %w", err)
	}
	return nil
}

// GetLatestScan returns the cached snapshot, or (nil, nil) when none exists
// or it has expired.
func (c *Cache) GetLatestScan(ctx context.Context) (*Snapshot, error) {
	if c == nil {
		return nil, nil
	}
	data, err := c.client.Get(ctx, latestScanKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: reading snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("cache: decoding snapshot: %w", err)
	}
	return &snap, nil
}

// Publish fans one opportunity out on the configured channel.
func (c *Cache) Publish(ctx context.Context, opp *types.Opportunity) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(opp)
	if err != nil {
		return fmt.Errorf("cache: encoding opportunity: %w", err)
	}
	if err := c.client.Publish(ctx, c.channel, data).Err(); err != nil {
		return fmt.Errorf("cache: publishing opportunity: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
