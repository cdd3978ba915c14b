package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisBackend struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBackend stores each entry as a plain Redis string under prefix+key.
func NewRedisBackend(rdb *redis.Client, prefix string) Backend {
	return &redisBackend{rdb: rdb, prefix: prefix}
}

func (b *redisBackend) key(k string) string { return b.prefix + k }

func (b *redisBackend) Get(ctx context.Context, key string) (string, error) {
	val, err := b.rdb.Get(ctx, b.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("could not read key %q from redis: %w", key, err)
	}
	return val, nil
}

func (b *redisBackend) Set(ctx context.Context, key, value string) error {
	if err := b.rdb.Set(ctx, b.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("could not write key %q to redis: %w", key, err)
	}
	return nil
}

func (b *redisBackend) Delete(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, b.key(key)).Err(); err != nil {
		return fmt.Errorf("could not delete key %q from redis: %w", key, err)
	}
	return nil
}
