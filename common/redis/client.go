package redis

import (
	"context"

	"github.com/phlaster/biokeeper-backend/common/config"

	"github.com/go-redis/redis/v8"
)

// Client aliases the go-redis client so callers need one import
type Client = redis.Client

// NewRedisClient builds a client from config
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping checks connectivity
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Close closes the client
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
