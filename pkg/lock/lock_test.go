package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLockClient is a mock implementation of RedisClient.
type mockLockClient struct {
	setNXFn func(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd

	setNXCalls int
	evalKeys   []string
	evalTokens []string
}

func (m *mockLockClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	m.setNXCalls++
	if m.setNXFn != nil {
		return m.setNXFn(ctx, key, value, expiration)
	}
	return redis.NewBoolResult(true, nil)
}

func (m *mockLockClient) recordEval(keys []string, args []interface{}) {
	m.evalKeys = append(m.evalKeys, keys...)
	for _, a := range args {
		if s, ok := a.(string); ok {
			m.evalTokens = append(m.evalTokens, s)
		}
	}
}

func (m *mockLockClient) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	m.recordEval(keys, args)
	return redis.NewCmdResult(int64(1), nil)
}

func (m *mockLockClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.recordEval(keys, args)
	return redis.NewCmdResult(int64(1), nil)
}

func (m *mockLockClient) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(int64(0), nil)
}

func (m *mockLockClient) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(int64(0), nil)
}

func (m *mockLockClient) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (m *mockLockClient) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func TestLocker_TryAcquire_FirstAttempt(t *testing.T) {
	client := &mockLockClient{}
	l := NewLocker(client)

	h, err := l.TryAcquire(context.Background(), "user:balance:9", time.Second, 5*time.Second)

	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "user:balance:9", h.Key())
	assert.Equal(t, 1, client.setNXCalls)
}

func TestLocker_TryAcquire_ContendedThenFree(t *testing.T) {
	attempts := 0
	client := &mockLockClient{
		setNXFn: func(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
			attempts++
			return redis.NewBoolResult(attempts > 1, nil)
		},
	}
	l := NewLocker(client)

	h, err := l.TryAcquire(context.Background(), "user:balance:9", time.Second, 5*time.Second)

	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, 2, attempts)
}

func TestLocker_TryAcquire_Timeout(t *testing.T) {
	client := &mockLockClient{
		setNXFn: func(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
			return redis.NewBoolResult(false, nil)
		},
	}
	l := NewLocker(client)

	_, err := l.TryAcquire(context.Background(), "user:balance:9", 0, 5*time.Second)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestLocker_TryAcquire_RedisErrorPropagates(t *testing.T) {
	client := &mockLockClient{
		setNXFn: func(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
			return redis.NewBoolResult(false, errors.New("connection refused"))
		},
	}
	l := NewLocker(client)

	_, err := l.TryAcquire(context.Background(), "user:balance:9", time.Second, 5*time.Second)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockTimeout, "infrastructure failures are not contention")
}

func TestLocker_Release_NilHandleIsNoOp(t *testing.T) {
	client := &mockLockClient{}
	l := NewLocker(client)

	require.NoError(t, l.Release(context.Background(), nil))
	assert.Empty(t, client.evalKeys)
}

func TestLocker_Release_ComparesToken(t *testing.T) {
	client := &mockLockClient{}
	l := NewLocker(client)

	h, err := l.TryAcquire(context.Background(), "product:stock:11", time.Second, 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, l.Release(context.Background(), h))
	assert.Equal(t, []string{"product:stock:11"}, client.evalKeys)
	require.Len(t, client.evalTokens, 1)
	assert.NotEmpty(t, client.evalTokens[0], "release must carry the fencing token")
}

func TestLocker_WithLock_ReleasesOnError(t *testing.T) {
	client := &mockLockClient{}
	l := NewLocker(client)

	cause := errors.New("boom")
	err := l.WithLock(context.Background(), "user:balance:9", time.Second, 5*time.Second, func(ctx context.Context) error {
		return cause
	})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []string{"user:balance:9"}, client.evalKeys, "the lock must be returned on the error path")
}

func TestLocker_WithLock_SkipsFnWhenContended(t *testing.T) {
	client := &mockLockClient{
		setNXFn: func(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
			return redis.NewBoolResult(false, nil)
		},
	}
	l := NewLocker(client)

	ran := false
	err := l.WithLock(context.Background(), "user:balance:9", 0, 5*time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	})

	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.False(t, ran)
}

func TestLockKeys(t *testing.T) {
	assert.Equal(t, "user:balance:9", UserBalanceKey(9))
	assert.Equal(t, "product:stock:11", ProductStockKey(11))
}
