package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned by Get when the key is absent or expired
var ErrMiss = errors.New("cache miss")

// KV is a string cache with per-entry TTL
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisKV stores entries under prefix in Redis
type RedisKV struct {
	client *redis.Client
	prefix string
}

var _ KV = (*RedisKV)(nil)

func NewRedisKV(client *redis.Client, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

func (kv *RedisKV) key(k string) string {
	if kv.prefix == "" {
		return k
	}
	return kv.prefix + ":" + k
}

func (kv *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := kv.client.Get(ctx, kv.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value; ttl <= 0 keeps it forever
func (kv *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := kv.client.Set(ctx, kv.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// NopKV never caches
type NopKV struct{}

var _ KV = NopKV{}

func (NopKV) Get(context.Context, string) (string, error)              { return "", ErrMiss }
func (NopKV) Set(context.Context, string, string, time.Duration) error { return nil }
