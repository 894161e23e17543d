package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
)

// DNC cache key prefix and TTL values. Positive hits live longer than
// negative ones so a fresh DNC registration is honored within minutes.
const (
	dncKeyPrefix   = "dialer:dnc:"
	dncPositiveTTL = 24 * time.Hour
	dncNegativeTTL = 30 * time.Minute
)

// DNCStore is the authoritative DNC lookup, usually Postgres.
type DNCStore interface {
	Lookup(ctx context.Context, phone string, campaignID, listID uuid.UUID) (listed bool, source string, err error)
}

// DNCCache fronts the DNC store with a Redis read-through cache. It
// implements the compliance scrubber's DNC checker. Cache failures never
// block a lookup, the store remains the source of truth.
type DNCCache struct {
	client *redis.Client
	store  DNCStore
	logger *zap.Logger
}

type cachedVerdict struct {
	Listed   bool      `json:"listed"`
	Source   string    `json:"source"`
	CachedAt time.Time `json:"cached_at"`
}

// NewDNCCache creates a read-through DNC cache over the given store.
func NewDNCCache(client *redis.Client, store DNCStore, logger *zap.Logger) *DNCCache {
	return &DNCCache{
		client: client,
		store:  store,
		logger: logger,
	}
}

// IsListed answers whether the phone is on a DNC list applicable to the
// campaign/list pair, consulting the cache first.
func (c *DNCCache) IsListed(ctx context.Context, phone values.PhoneNumber, campaignID, listID uuid.UUID) (bool, string, error) {
	key := c.key(phone, campaignID, listID)

	data, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var v cachedVerdict
		if err := json.Unmarshal([]byte(data), &v); err == nil {
			return v.Listed, v.Source, nil
		}
		// Corrupt entry, drop it and fall through to the store.
		_ = c.client.Del(ctx, key).Err()
	case err != redis.Nil:
		c.logger.Warn("dnc cache read failed", zap.String("key", key), zap.Error(err))
	}

	listed, source, err := c.store.Lookup(ctx, phone.String(), campaignID, listID)
	if err != nil {
		return false, "", fmt.Errorf("dnc lookup: %w", err)
	}

	ttl := dncNegativeTTL
	if listed {
		ttl = dncPositiveTTL
	}
	if payload, err := json.Marshal(cachedVerdict{
		Listed:   listed,
		Source:   source,
		CachedAt: time.Now().UTC(),
	}); err == nil {
		if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
			c.logger.Warn("dnc cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	return listed, source, nil
}

// Invalidate removes cached verdicts for a phone across all scopes. Called
// when a number is added to a DNC list so stale negatives cannot linger.
func (c *DNCCache) Invalidate(ctx context.Context, phone values.PhoneNumber) error {
	pattern := dncKeyPrefix + phone.String() + ":*"

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("dnc cache scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("dnc cache invalidate: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *DNCCache) key(phone values.PhoneNumber, campaignID, listID uuid.UUID) string {
	return fmt.Sprintf("%s%s:%s:%s", dncKeyPrefix, phone.String(), campaignID, listID)
}
