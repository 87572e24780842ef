// Package lock provides a distributed mutual-exclusion primitive over Redis.
//
// A lock is taken with SET NX PX so a crashed holder can never stall other
// workers beyond the lease. Release compares the stored token before
// deleting, so an expired holder cannot release a lock someone else now owns.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when the lock could not be acquired within the
// caller's wait budget. Callers treat it as retryable.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// acquirePollInterval is how often a blocked acquirer re-attempts SET NX.
const acquirePollInterval = 50 * time.Millisecond

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisClient is the subset of redis.Client the locker needs.
// Narrowed for testability.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd
	ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd
	ScriptLoad(ctx context.Context, script string) *redis.StringCmd
}

// Handle identifies one successful acquisition. The token fences releases:
// only the handle that acquired the key can release it.
type Handle struct {
	key   string
	token string
}

// Key returns the locked key. Used in log fields.
func (h *Handle) Key() string { return h.key }

// Locker acquires and releases distributed locks.
type Locker struct {
	client RedisClient
}

// NewLocker creates a Locker backed by the given Redis client.
func NewLocker(client RedisClient) *Locker {
	return &Locker{client: client}
}

// TryAcquire attempts to take the lock, polling until wait elapses.
// The lock auto-expires after lease. Returns ErrLockTimeout when the wait
// budget runs out and the underlying Redis error for anything else.
func (l *Locker) TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (*Handle, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return &Handle{key: key, token: token}, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock %s: %w", key, ErrLockTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

// Release gives the lock back. A handle whose lease already expired releases
// nothing; that is fine because the key is gone or owned by someone else.
func (l *Locker) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{h.key}, h.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", h.key, err)
	}
	return nil
}

// WithLock runs fn while holding the lock on key. Release is deferred, so
// the lock is returned on every exit path including panics inside fn.
func (l *Locker) WithLock(ctx context.Context, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error {
	handle, err := l.TryAcquire(ctx, key, wait, lease)
	if err != nil {
		return err
	}
	defer func() { _ = l.Release(ctx, handle) }()

	return fn(ctx)
}

// UserBalanceKey is the lock key guarding wallet debit/refund for a user.
func UserBalanceKey(userID int64) string {
	return fmt.Sprintf("user:balance:%d", userID)
}

// ProductStockKey is the lock key guarding stock deduct/restore for an option.
func ProductStockKey(optionID int64) string {
	return fmt.Sprintf("product:stock:%d", optionID)
}
