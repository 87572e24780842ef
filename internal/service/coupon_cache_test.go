package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
)

// mockCacheClient is a mock implementation of CacheClient.
type mockCacheClient struct {
	getFn func(ctx context.Context, key string) *redis.StringCmd
	setFn func(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	delFn func(ctx context.Context, keys ...string) *redis.IntCmd

	sets    map[string][]byte
	deleted []string
}

func (m *mockCacheClient) Get(ctx context.Context, key string) *redis.StringCmd {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (m *mockCacheClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if m.sets == nil {
		m.sets = make(map[string][]byte)
	}
	if raw, ok := value.([]byte); ok {
		m.sets[key] = raw
	}
	if m.setFn != nil {
		return m.setFn(ctx, key, value, expiration)
	}
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCacheClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.deleted = append(m.deleted, keys...)
	if m.delFn != nil {
		return m.delFn(ctx, keys...)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestCouponCache_Get_Hit(t *testing.T) {
	stored := &model.Coupon{CouponID: 3, Name: "Launch Promo", RemainingQty: 10}
	raw, err := json.Marshal(stored)
	require.NoError(t, err)

	client := &mockCacheClient{
		getFn: func(ctx context.Context, key string) *redis.StringCmd {
			assert.Equal(t, "coupon:def:3", key)
			return redis.NewStringResult(string(raw), nil)
		},
	}
	cache := NewCouponCache(client)

	coupon, ok := cache.Get(context.Background(), 3)

	require.True(t, ok)
	assert.Equal(t, "Launch Promo", coupon.Name)
}

func TestCouponCache_Get_MissAndErrorsDegradeToMiss(t *testing.T) {
	cache := NewCouponCache(&mockCacheClient{})
	_, ok := cache.Get(context.Background(), 3)
	assert.False(t, ok)

	cache = NewCouponCache(&mockCacheClient{
		getFn: func(ctx context.Context, key string) *redis.StringCmd {
			return redis.NewStringResult("", errors.New("connection refused"))
		},
	})
	_, ok = cache.Get(context.Background(), 3)
	assert.False(t, ok, "cache outages must read as misses, never as failures")

	cache = NewCouponCache(&mockCacheClient{
		getFn: func(ctx context.Context, key string) *redis.StringCmd {
			return redis.NewStringResult("{not json", nil)
		},
	})
	_, ok = cache.Get(context.Background(), 3)
	assert.False(t, ok)
}

func TestCouponCache_PutThenInvalidate(t *testing.T) {
	client := &mockCacheClient{}
	cache := NewCouponCache(client)

	cache.Put(context.Background(), &model.Coupon{CouponID: 3, Name: "Launch Promo"})

	raw, ok := client.sets["coupon:def:3"]
	require.True(t, ok)
	var stored model.Coupon
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, "Launch Promo", stored.Name)

	cache.Invalidate(context.Background(), 3)
	assert.Equal(t, []string{"coupon:def:3"}, client.deleted)
}

func TestCouponService_Enqueue_CacheHitSkipsDatabase(t *testing.T) {
	now := time.Now()
	raw, err := json.Marshal(grantableCoupon(3, now))
	require.NoError(t, err)

	client := &mockCacheClient{
		getFn: func(ctx context.Context, key string) *redis.StringCmd {
			return redis.NewStringResult(string(raw), nil)
		},
	}
	coupons := &mockCouponRepo{}
	enqueuer := &mockEnqueuer{}
	svc := NewCouponService(
		&mockTxBeginner{}, coupons, &mockUserCouponRepo{}, &mockOutboxWriter{},
		enqueuer, &mockStatusStore{}, NewCouponCache(client), 2*time.Second,
	)

	_, err = svc.Enqueue(context.Background(), 9, 3)

	require.NoError(t, err)
	assert.Zero(t, coupons.getByIDCalls, "a cache hit keeps the fast path off the database")
	assert.Len(t, enqueuer.enqueued, 1)
}

func TestCouponService_Enqueue_CacheMissFillsCache(t *testing.T) {
	now := time.Now()
	client := &mockCacheClient{}
	coupons := &mockCouponRepo{
		getByIDFn: func(ctx context.Context, couponID int64) (*model.Coupon, error) {
			return grantableCoupon(couponID, now), nil
		},
	}
	svc := NewCouponService(
		&mockTxBeginner{}, coupons, &mockUserCouponRepo{}, &mockOutboxWriter{},
		&mockEnqueuer{}, &mockStatusStore{}, NewCouponCache(client), 2*time.Second,
	)

	_, err := svc.Enqueue(context.Background(), 9, 3)

	require.NoError(t, err)
	assert.Equal(t, 1, coupons.getByIDCalls)
	_, filled := client.sets["coupon:def:3"]
	assert.True(t, filled, "the miss populates the cache for the next burst")
}
