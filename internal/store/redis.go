package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/didac-crst/mockexchange-api/internal/core"
	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

const (
	lockPrefix       = "lock_"
	lockSpinInterval = 10 * time.Millisecond
)

// unlockScript deletes the lock only if the caller still owns it.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// Options configure the Redis adapter's retry behavior.
type Options struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryMaxAttempts <= 0 {
		o.RetryMaxAttempts = 4
	}
	if o.RetryInitialBackoff <= 0 {
		o.RetryInitialBackoff = 50 * time.Millisecond
	}
	if o.RetryMaxBackoff <= 0 {
		o.RetryMaxBackoff = time.Second
	}
	return o
}

// RedisStore implements Store on a Redis-protocol server.
type RedisStore struct {
	client *redis.Client
	exec   failsafe.Executor[any]
	logger core.ILogger
}

// NewRedisStore connects to the server at url (redis://host:port/db).
func NewRedisStore(url string, opts Options, logger core.ILogger) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperrors.InvalidArgumentf("redis url %q: %v", url, err)
	}
	opts = opts.withDefaults()

	retryPolicy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return isRetryable(err)
		}).
		WithBackoff(opts.RetryInitialBackoff, opts.RetryMaxBackoff).
		WithMaxRetries(opts.RetryMaxAttempts - 1).
		Build()

	return &RedisStore{
		client: redis.NewClient(redisOpts),
		exec:   failsafe.With[any](retryPolicy),
		logger: logger.WithField("component", "store"),
	}, nil
}

// NewRedisStoreFromClient wraps an existing client; used by tests that run
// against miniredis.
func NewRedisStoreFromClient(client *redis.Client, opts Options, logger core.ILogger) *RedisStore {
	opts = opts.withDefaults()
	retryPolicy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return isRetryable(err)
		}).
		WithBackoff(opts.RetryInitialBackoff, opts.RetryMaxBackoff).
		WithMaxRetries(opts.RetryMaxAttempts - 1).
		Build()

	return &RedisStore{
		client: client,
		exec:   failsafe.With[any](retryPolicy),
		logger: logger.WithField("component", "store"),
	}
}

// isRetryable reports whether a round-trip failure is worth another attempt.
// Misses and canceled contexts are not failures of the server.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	v, err := s.exec.Get(func() (any, error) {
		return s.client.HGetAll(ctx, key).Result()
	})
	if err != nil {
		return nil, apperrors.Transientf("hgetall "+key, err)
	}
	return v.(map[string]string), nil
}

func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	err := s.exec.Run(func() error {
		return s.client.HSet(ctx, key, fields).Err()
	})
	if err != nil {
		return apperrors.Transientf("hset "+key, err)
	}
	return nil
}

func (s *RedisStore) HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error) {
	v, err := s.exec.Get(func() (any, error) {
		return s.client.HIncrByFloat(ctx, key, field, delta).Result()
	})
	if err != nil {
		return 0, apperrors.Transientf("hincrbyfloat "+key, err)
	}
	return v.(float64), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.exec.Get(func() (any, error) {
		return s.client.Get(ctx, key).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperrors.NotFoundf("key %s", key)
		}
		return "", apperrors.Transientf("get "+key, err)
	}
	return v.(string), nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	v, err := s.exec.Get(func() (any, error) {
		return s.client.Exists(ctx, key).Result()
	})
	if err != nil {
		return false, apperrors.Transientf("exists "+key, err)
	}
	return v.(int64) > 0, nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	v, err := s.exec.Get(func() (any, error) {
		return s.client.SetNX(ctx, key, value, ttl).Result()
	})
	if err != nil {
		return false, apperrors.Transientf("setnx "+key, err)
	}
	return v.(bool), nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	v, err := s.exec.Get(func() (any, error) {
		return s.client.Expire(ctx, key, ttl).Result()
	})
	if err != nil {
		return false, apperrors.Transientf("expire "+key, err)
	}
	return v.(bool), nil
}

// KeysWithPrefix scans the keyspace; only background sweeps use it.
func (s *RedisStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	v, err := s.exec.Get(func() (any, error) {
		var keys []string
		iter := s.client.Scan(ctx, 0, prefix+"*", 512).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return keys, nil
	})
	if err != nil {
		return nil, apperrors.Transientf("scan "+prefix, err)
	}
	return v.([]string), nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := s.exec.Run(func() error {
		return s.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		return apperrors.Transientf("del", err)
	}
	return nil
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	err := s.exec.Run(func() error {
		return s.client.SAdd(ctx, key, args...).Err()
	})
	if err != nil {
		return apperrors.Transientf("sadd "+key, err)
	}
	return nil
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	err := s.exec.Run(func() error {
		return s.client.SRem(ctx, key, args...).Err()
	})
	if err != nil {
		return apperrors.Transientf("srem "+key, err)
	}
	return nil
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	v, err := s.exec.Get(func() (any, error) {
		return s.client.SMembers(ctx, key).Result()
	})
	if err != nil {
		return nil, apperrors.Transientf("smembers "+key, err)
	}
	return v.([]string), nil
}

func (s *RedisStore) SInter(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	v, err := s.exec.Get(func() (any, error) {
		return s.client.SInter(ctx, keys...).Result()
	})
	if err != nil {
		return nil, apperrors.Transientf("sinter", err)
	}
	return v.([]string), nil
}

// WithLock implements the advisory lock with SET NX PX and a token-checked
// release, spinning while the holder finishes. The wait is bounded by one
// ttl so a dead holder cannot park callers forever.
func (s *RedisStore) WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	lockKey := lockPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(ttl)

	for {
		ok, err := s.SetNX(ctx, lockKey, token, ttl)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: lock %s held past wait deadline", apperrors.ErrConflict, lockKey)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockSpinInterval):
		}
	}

	defer func() {
		// Release only our own token; a lock lost to TTL expiry may
		// already belong to someone else.
		if err := unlockScript.Run(context.WithoutCancel(ctx), s.client, []string{lockKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			s.logger.Warn("lock release failed", "key", lockKey, "error", err)
		}
	}()

	return fn()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	err := s.exec.Run(func() error {
		return s.client.Ping(ctx).Err()
	})
	if err != nil {
		return apperrors.Transientf("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
