package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// BalanceCache keeps recently read on-chain wallet balances in Redis
type BalanceCache struct {
	redis  *RedisCache
	ttl    time.Duration
	prefix string
}

// NewBalanceCache creates a balance cache with the given entry TTL
func NewBalanceCache(r *RedisCache, ttl time.Duration) *BalanceCache {
	return &BalanceCache{redis: r, ttl: ttl, prefix: "claimer:balance:"}
}

func (c *BalanceCache) key(wallet string) string {
	return c.prefix + wallet
}

// Get returns the cached base-unit balance of wallet and whether it was present
func (c *BalanceCache) Get(ctx context.Context, wallet string) (uint64, bool, error) {
	raw, err := c.redis.Client().Get(ctx, c.key(wallet)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cached balance: %w", err)
	}

	balance, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		// Unreadable entries are treated as a miss and overwritten on the next Set
		return 0, false, nil
	}
	return balance, true, nil
}

// Set stores the base-unit balance of wallet
func (c *BalanceCache) Set(ctx context.Context, wallet string, balance uint64) error {
	if c.ttl <= 0 {
		return nil
	}
	if err := c.redis.Client().Set(ctx, c.key(wallet), strconv.FormatUint(balance, 10), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache balance: %w", err)
	}
	return nil
}

// Invalidate drops the cached balance of wallet
func (c *BalanceCache) Invalidate(ctx context.Context, wallet string) error {
	if err := c.redis.Client().Del(ctx, c.key(wallet)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached balance: %w", err)
	}
	return nil
}
