package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key or hash field is absent.
var ErrNotFound = errors.New("redis: key not found")

type (
	RedisService struct {
		rdb    redis.UniversalClient
		prefix string
	}
)

// NewRedis wraps rdb. Every key passed to the service is namespaced under
// prefix.
func NewRedis(rdb redis.UniversalClient, prefix string) *RedisService {
	return &RedisService{
		rdb:    rdb,
		prefix: prefix,
	}
}

func (r *RedisService) key(k string) string {
	return r.prefix + k
}

func (r *RedisService) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisService) HSet(ctx context.Context, key, field string, value any) error {
	return r.rdb.HSet(ctx, r.key(key), field, value).Err()
}

func (r *RedisService) HDel(ctx context.Context, key string, fields ...string) error {
	return r.rdb.HDel(ctx, r.key(key), fields...).Err()
}

func (r *RedisService) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, r.key(key)).Result()
}

// CompareAndDelete reads key and deletes it only when match accepts the
// value, atomically with respect to other writers of key. It returns the
// value that was deleted. ErrNotFound means the key was absent; a rejected
// value returns (value, false, nil) and leaves the key in place.
func (r *RedisService) CompareAndDelete(ctx context.Context, key string, match func([]byte) bool) ([]byte, bool, error) {
	k := r.key(key)
	var (
		value   []byte
		deleted bool
	)

	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		value = b
		if !match(b) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}

	for range 3 {
		err := r.rdb.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return value, deleted, err
	}
	return nil, false, redis.TxFailedErr
}
