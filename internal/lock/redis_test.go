package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisProvider) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisProvider(client, "conveyor:")
}

func TestRedisProvider_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	mr, provider := newTestRedis(t)

	a := New(provider, "scheduler:cron:report", time.Minute)
	b := New(provider, "scheduler:cron:report", time.Minute)

	require.True(t, a.Acquire(ctx))
	assert.False(t, b.Acquire(ctx))

	val, err := mr.Get("conveyor:scheduler:cron:report")
	require.NoError(t, err)
	assert.Equal(t, a.Token(), val)
	assert.Greater(t, mr.TTL("conveyor:scheduler:cron:report"), time.Duration(0))

	b.Release(ctx)
	assert.True(t, mr.Exists("conveyor:scheduler:cron:report"), "non-owner release must be a no-op")

	a.Release(ctx)
	assert.False(t, mr.Exists("conveyor:scheduler:cron:report"))
}

func TestRedisProvider_ExpiredLeaseIsReacquirable(t *testing.T) {
	ctx := context.Background()
	mr, provider := newTestRedis(t)

	a := New(provider, "k", time.Second)
	require.True(t, a.Acquire(ctx))

	mr.FastForward(2 * time.Second)

	b := New(provider, "k", time.Minute)
	require.True(t, b.Acquire(ctx))

	// Старый держатель не должен снять новый lease
	a.Release(ctx)
	val, err := mr.Get("conveyor:k")
	require.NoError(t, err)
	assert.Equal(t, b.Token(), val)
}

func TestRedisProvider_GetMissing(t *testing.T) {
	_, provider := newTestRedis(t)

	_, ok, err := provider.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisProvider_Unavailable(t *testing.T) {
	mr, provider := newTestRedis(t)
	mr.Close()

	lk := New(provider, "k", time.Minute)
	assert.False(t, lk.Acquire(context.Background()))
	assert.NotPanics(t, func() { lk.Release(context.Background()) })
}
