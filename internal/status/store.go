// Package status holds the short-lived per-request records consulted by
// the coupon polling endpoint.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
)

// RedisClient is the subset of redis.Client the store needs.
// Narrowed for testability.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// record is the stored shape. EnqueuedAt stays with the record so
// waiting_ms can be computed at read time for PENDING requests.
type record struct {
	Status     model.AsyncStatusState `json:"status"`
	Result     *model.UserCouponView  `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
}

// Store keeps AsyncStatus records in Redis with per-state TTLs: PENDING
// rows expire quickly, terminal rows stick around long enough for slow
// pollers (defaults 30 minutes and 24 hours).
type Store struct {
	client      RedisClient
	ttlPending  time.Duration
	ttlTerminal time.Duration
	now         func() time.Time
}

// NewStore creates a Store.
func NewStore(client RedisClient, ttlPending, ttlTerminal time.Duration) *Store {
	return &Store{client: client, ttlPending: ttlPending, ttlTerminal: ttlTerminal, now: time.Now}
}

func key(requestID string) string {
	return "coupon:request:" + requestID
}

// SetPending writes the initial PENDING record at enqueue time. PENDING is
// only ever written here; workers write terminal states exactly once.
func (s *Store) SetPending(ctx context.Context, requestID string, enqueuedAt time.Time) error {
	return s.write(ctx, requestID, record{
		Status:     model.AsyncPending,
		EnqueuedAt: enqueuedAt,
	}, s.ttlPending)
}

// SetCompleted writes the terminal COMPLETED record with the issued coupon.
func (s *Store) SetCompleted(ctx context.Context, requestID string, enqueuedAt time.Time, result *model.UserCouponView) error {
	resolved := s.now().UTC()
	return s.write(ctx, requestID, record{
		Status:     model.AsyncCompleted,
		Result:     result,
		EnqueuedAt: enqueuedAt,
		ResolvedAt: &resolved,
	}, s.ttlTerminal)
}

// SetFailed writes the terminal FAILED record with the failure reason.
func (s *Store) SetFailed(ctx context.Context, requestID string, enqueuedAt time.Time, reason string) error {
	resolved := s.now().UTC()
	return s.write(ctx, requestID, record{
		Status:     model.AsyncFailed,
		Error:      reason,
		EnqueuedAt: enqueuedAt,
		ResolvedAt: &resolved,
	}, s.ttlTerminal)
}

// SetRetry refreshes a record to RETRY after a transient failure, keeping
// the pending TTL so abandoned requests still age out.
func (s *Store) SetRetry(ctx context.Context, requestID string, enqueuedAt time.Time) error {
	return s.write(ctx, requestID, record{
		Status:     model.AsyncRetry,
		EnqueuedAt: enqueuedAt,
	}, s.ttlPending)
}

func (s *Store) write(ctx context.Context, requestID string, rec record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal status record: %w", err)
	}
	if err := s.client.Set(ctx, key(requestID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("write status %s: %w", requestID, err)
	}
	return nil
}

// Get reads the status for a request id. Missing or expired records come
// back as NOT_FOUND, never as an error.
func (s *Store) Get(ctx context.Context, requestID string) (*model.AsyncStatus, error) {
	raw, err := s.client.Get(ctx, key(requestID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &model.AsyncStatus{RequestID: requestID, Status: model.AsyncNotFound}, nil
		}
		return nil, fmt.Errorf("read status %s: %w", requestID, err)
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode status %s: %w", requestID, err)
	}

	until := s.now()
	if rec.ResolvedAt != nil {
		until = *rec.ResolvedAt
	}
	return &model.AsyncStatus{
		RequestID: requestID,
		Status:    rec.Status,
		Result:    rec.Result,
		Error:     rec.Error,
		WaitingMs: until.Sub(rec.EnqueuedAt).Milliseconds(),
	}, nil
}
