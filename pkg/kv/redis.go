package kv

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store implementation backed by Redis (or any
// protocol-compatible server, including miniredis in tests).
type RedisStore struct {
	client *redis.Client
	// retryMax bounds the backoff retry applied to transient I/O errors
	// per spec.md §7 ("Transient I/O... retry one loop tick").
	retryMax time.Duration
}

// NewRedisStore wraps an existing *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, retryMax: 2 * time.Second}
}

// withRetry retries failed Redis calls with exponential backoff bounded by
// retryMax. Every error other than redis.Nil counts as transient, so logic
// errors (wrong type, script errors) are retried too until retryMax elapses.
func (s *RedisStore) withRetry(ctx context.Context, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.MaxElapsedTime = s.retryMax
	b := backoff.WithContext(exp, ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil || err == redis.Nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func isTransient(err error) bool {
	// go-redis surfaces network errors unwrapped; treat anything that is
	// not a known logic sentinel as transient and retry it.
	return err != nil && err != redis.Nil
}

func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	return s.withRetry(ctx, func() error {
		vals := make([]interface{}, 0, len(fields)*2)
		for k, v := range fields {
			vals = append(vals, k, v)
		}
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, key, vals...)
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := s.withRetry(ctx, func() error {
		var e error
		out, e = s.client.HGetAll(ctx, key).Result()
		return e
	})
	return out, err
}

// HIncrBy atomically adjusts one hash field by delta (Redis HINCRBY),
// without touching any other field in the hash — the primitive spec.md
// §4.3's `hincr(progress, "done", 1)` needs so concurrent terminations
// from different processes never lose an increment to a read-modify-write.
func (s *RedisStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	var out int64
	err := s.withRetry(ctx, func() error {
		var e error
		out, e = s.client.HIncrBy(ctx, key, field, delta).Result()
		return e
	})
	return out, err
}

func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	return s.withRetry(ctx, func() error { return s.client.HDel(ctx, key, fields...).Err() })
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.withRetry(ctx, func() error { return s.client.Del(ctx, keys...).Err() })
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.withRetry(ctx, func() error { return s.client.PExpire(ctx, key, ttl).Err() })
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	return s.withRetry(ctx, func() error {
		vals := make([]interface{}, len(members))
		for i, m := range members {
			vals[i] = m
		}
		return s.client.SAdd(ctx, key, vals...).Err()
	})
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := s.withRetry(ctx, func() error {
		var e error
		out, e = s.client.SMembers(ctx, key).Result()
		return e
	})
	return out, err
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	return s.withRetry(ctx, func() error {
		vals := make([]interface{}, len(members))
		for i, m := range members {
			vals[i] = m
		}
		return s.client.SRem(ctx, key, vals...).Err()
	})
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.Del(ctx, key)
}

func (s *RedisStore) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	var out int64
	err := s.withRetry(ctx, func() error {
		var e error
		out, e = s.client.IncrBy(ctx, key, delta).Result()
		return e
	})
	return out, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.withRetry(ctx, func() error { return s.client.Set(ctx, key, value, ttl).Err() })
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	var out string
	var missing bool
	err := s.withRetry(ctx, func() error {
		v, e := s.client.Get(ctx, key).Result()
		if e == redis.Nil {
			missing = true
			return nil
		}
		if e != nil {
			return e
		}
		out = v
		return nil
	})
	if err != nil {
		return "", err
	}
	if missing {
		return "", ErrNotFound
	}
	return out, nil
}

func (s *RedisStore) GetDel(ctx context.Context, key string) (string, bool, error) {
	var out string
	var found bool
	err := s.withRetry(ctx, func() error {
		v, e := s.client.GetDel(ctx, key).Result()
		if e == redis.Nil {
			found = false
			return nil
		}
		if e != nil {
			return e
		}
		out, found = v, true
		return nil
	})
	return out, found, err
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.withRetry(ctx, func() error {
		return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	})
}

func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) error {
	return s.withRetry(ctx, func() error {
		vals := make([]interface{}, len(members))
		for i, m := range members {
			vals[i] = m
		}
		return s.client.ZRem(ctx, key, vals...).Err()
	})
}

func (s *RedisStore) ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	var out []string
	err := s.withRetry(ctx, func() error {
		var e error
		out, e = s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min:   formatScore(min),
			Max:   formatScore(max),
			Count: limit,
		}).Result()
		return e
	})
	return out, err
}

func (s *RedisStore) Eval(ctx context.Context, script Script, keys []string, args ...interface{}) (interface{}, error) {
	sc := redis.NewScript(script.Source)
	var out interface{}
	err := s.withRetry(ctx, func() error {
		var e error
		out, e = sc.Run(ctx, s.client, keys, args...).Result()
		if e == redis.Nil {
			out = nil
			return nil
		}
		return e
	})
	return out, err
}

func (s *RedisStore) Close() error { return s.client.Close() }

func formatScore(f float64) string {
	// redis accepts "+inf"/"-inf" or a plain float string.
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if math.IsInf(f, 1) {
		return "+inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
