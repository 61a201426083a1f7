package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/infrastructure/resilience"
)

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore shares paused sessions between replicas.
type RedisStore struct {
	client   redisClient
	ttl      time.Duration
	prefix   string
	executor *resilience.Executor
}

func NewRedisStore(client redisClient, ttl time.Duration, executor *resilience.Executor) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisStore{
		client:   client,
		ttl:      ttl,
		prefix:   defaultKeyPrefix,
		executor: executor,
	}
}

// NewRedisClient parses a redis:// URL, falling back to a plain address.
func NewRedisClient(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	return redis.NewClient(opt)
}

func (s *RedisStore) Save(ctx context.Context, state *domain.RetrievalState) error {
	raw, err := encodeState(state)
	if err != nil {
		return err
	}
	key := s.prefix + state.Session.SessionID
	return s.execute(ctx, "redis.set", func(callCtx context.Context) error {
		return s.client.Set(callCtx, key, raw, s.ttl).Err()
	})
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*domain.RetrievalState, error) {
	var raw []byte
	err := s.execute(ctx, "redis.get", func(callCtx context.Context) error {
		value, err := s.client.Get(callCtx, s.prefix+sessionID).Bytes()
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, notFound(sessionID)
	}
	if err != nil {
		return nil, err
	}
	return decodeState(raw)
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.execute(ctx, "redis.del", func(callCtx context.Context) error {
		return s.client.Del(callCtx, s.prefix+sessionID).Err()
	})
}

func (s *RedisStore) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	if s.executor == nil {
		err = fn(ctx)
	} else {
		err = s.executor.Execute(ctx, operation, fn, classifyRedisError)
	}
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	if classifyRedisError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func classifyRedisError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.ErrClosed) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
