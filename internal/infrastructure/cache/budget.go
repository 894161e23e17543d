package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Budget window keys already encode the hour, the TTL only reclaims memory.
const budgetKeyTTL = 2 * time.Hour

// HourlyBudget counts dials per fixed hour window in Redis so every engine
// instance draws from the same per-list budget.
type HourlyBudget struct {
	client *redis.Client
	logger *zap.Logger
}

// NewHourlyBudget creates a Redis-backed hourly dial budget.
func NewHourlyBudget(client *redis.Client, logger *zap.Logger) *HourlyBudget {
	return &HourlyBudget{
		client: client,
		logger: logger,
	}
}

// Remaining returns how many dials are left this hour for the key. A limit
// of 0 means unlimited.
func (b *HourlyBudget) Remaining(ctx context.Context, key string, limit int) (int, error) {
	if limit <= 0 {
		return -1, nil
	}

	used, err := b.client.Get(ctx, key).Int()
	switch {
	case err == redis.Nil:
		used = 0
	case err != nil:
		return 0, fmt.Errorf("budget read: %w", err)
	}

	left := limit - used
	if left < 0 {
		left = 0
	}
	return left, nil
}

// Increment consumes one unit from the current hour window.
func (b *HourlyBudget) Increment(ctx context.Context, key string) error {
	pipe := b.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, budgetKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("budget increment: %w", err)
	}

	b.logger.Debug("budget consumed",
		zap.String("key", key),
		zap.Int64("used", incr.Val()))
	return nil
}
