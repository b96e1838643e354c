package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) (*RedisKV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisKV(client, "weather"), mr
}

func TestRedisKV_GetSet(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "a", "1", time.Minute))
	got, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", got)
	assert.True(t, mr.Exists("weather:a"))
}

func TestRedisKV_Expiry(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", "1", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := kv.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestNopKV(t *testing.T) {
	var kv NopKV
	require.NoError(t, kv.Set(context.Background(), "a", "1", time.Minute))
	_, err := kv.Get(context.Background(), "a")
	assert.ErrorIs(t, err, ErrMiss)
}
