// Package rediscache provides a short-lived snapshot cache for the
// public availability listing. Authoritative counts always come from the
// inventory ledger in Postgres; this cache only absorbs browse traffic.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/comejohn59-dotcom/distributed-blood-bank-frontend-sub002/internal/domain/inventory"
)

const availabilityKey = "bloodconnect:availability:v1"

// AvailabilityCache caches the bank/group stock snapshot.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New creates the cache. A zero ttl defaults to 30 seconds.
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *AvailabilityCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AvailabilityCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached snapshot, or ok=false on miss. Cache errors
// degrade to a miss; the caller falls through to Postgres.
func (c *AvailabilityCache) Get(ctx context.Context) ([]inventory.BankStock, bool) {
	raw, err := c.client.Get(ctx, availabilityKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("availability cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var stocks []inventory.BankStock
	if err := json.Unmarshal(raw, &stocks); err != nil {
		c.logger.Warn("availability cache decode failed", zap.Error(err))
		return nil, false
	}
	return stocks, true
}

// Set stores a fresh snapshot.
func (c *AvailabilityCache) Set(ctx context.Context, stocks []inventory.BankStock) {
	raw, err := json.Marshal(stocks)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, availabilityKey, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("availability cache write failed", zap.Error(err))
	}
}

// Invalidate drops the snapshot after a stock mutation.
func (c *AvailabilityCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, availabilityKey).Err(); err != nil {
		c.logger.Warn("availability cache invalidate failed", zap.Error(err))
	}
}
