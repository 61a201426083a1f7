package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/infrastructure/resilience"
)

type redisFake struct {
	mu      sync.Mutex
	values  map[string][]byte
	ttls    map[string]time.Duration
	getErrs []error
	gets    int
}

func newRedisFake() *redisFake {
	return &redisFake{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *redisFake) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		return redis.NewStringResult("", err)
	}
	value, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(value), nil)
}

func (f *redisFake) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value.([]byte)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *redisFake) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			delete(f.values, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
}

func TestRedisStoreRoundTrip(t *testing.T) {
	fake := newRedisFake()
	store := NewRedisStore(fake, 5*time.Minute, testExecutor())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, pausedState("abc")))
	require.Equal(t, 5*time.Minute, fake.ttls["aqa:session:abc"])

	loaded, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, int64(7), loaded.Session.ScopeID)
	require.Equal(t, "Please specify the signing date and amount.", loaded.AmbiguityMessage())

	require.NoError(t, store.Delete(ctx, "abc"))
	_, err = store.Load(ctx, "abc")
	require.True(t, domain.IsKind(err, domain.ErrSessionNotFound))
}

func TestRedisStoreRetriesNetworkErrors(t *testing.T) {
	fake := newRedisFake()
	store := NewRedisStore(fake, time.Minute, testExecutor())
	require.NoError(t, store.Save(context.Background(), pausedState("abc")))

	fake.getErrs = []error{redis.ErrClosed}
	_, err := store.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, 2, fake.gets)
}

func TestRedisStoreWrapsPersistentFailureAsTemporary(t *testing.T) {
	fake := newRedisFake()
	fake.getErrs = []error{context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded}
	store := NewRedisStore(fake, time.Minute, testExecutor())

	_, err := store.Load(context.Background(), "abc")
	require.True(t, domain.IsKind(err, domain.ErrTemporary))
	require.Equal(t, 3, fake.gets)
}

func TestClassifyRedisError(t *testing.T) {
	require.False(t, classifyRedisError(redis.Nil).RecordFailure)
	require.False(t, classifyRedisError(context.Canceled).Retryable)
	require.True(t, classifyRedisError(redis.ErrClosed).Retryable)
	require.False(t, classifyRedisError(errors.New("WRONGTYPE")).Retryable)
}
