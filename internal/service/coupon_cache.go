package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
)

// couponCacheTTL keeps the enqueue fast path off the database during
// spikes while staying fresh enough for validity checks, which are
// re-verified under the row lock anyway.
const couponCacheTTL = 60 * time.Second

// CacheClient is the subset of redis.Client the coupon cache needs.
type CacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CouponCache is a read-through Redis cache of coupon definitions, used
// only by the enqueue fast-path reject. All cache errors degrade to a
// miss; correctness never depends on the cache.
type CouponCache struct {
	client CacheClient
}

// NewCouponCache creates a CouponCache.
func NewCouponCache(client CacheClient) *CouponCache {
	return &CouponCache{client: client}
}

func cacheKey(couponID int64) string {
	return fmt.Sprintf("coupon:def:%d", couponID)
}

// Get returns the cached coupon and whether it was present.
func (c *CouponCache) Get(ctx context.Context, couponID int64) (*model.Coupon, bool) {
	raw, err := c.client.Get(ctx, cacheKey(couponID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Int64("coupon_id", couponID).Msg("coupon cache read failed")
		}
		return nil, false
	}
	var coupon model.Coupon
	if err := json.Unmarshal([]byte(raw), &coupon); err != nil {
		log.Warn().Err(err).Int64("coupon_id", couponID).Msg("coupon cache entry corrupt")
		return nil, false
	}
	return &coupon, true
}

// Put stores a coupon definition, best effort.
func (c *CouponCache) Put(ctx context.Context, coupon *model.Coupon) {
	raw, err := json.Marshal(coupon)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(coupon.CouponID), raw, couponCacheTTL).Err(); err != nil {
		log.Warn().Err(err).Int64("coupon_id", coupon.CouponID).Msg("coupon cache write failed")
	}
}

// Invalidate drops a cached definition after a mutation.
func (c *CouponCache) Invalidate(ctx context.Context, couponID int64) {
	if err := c.client.Del(ctx, cacheKey(couponID)).Err(); err != nil {
		log.Warn().Err(err).Int64("coupon_id", couponID).Msg("coupon cache invalidation failed")
	}
}
