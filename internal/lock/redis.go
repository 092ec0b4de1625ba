package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript удаляет ключ, только если значение совпадает с token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisProvider — Provider поверх Redis.
// Жизненным циклом клиента владеет вызывающая сторона.
type RedisProvider struct {
	client redis.Cmdable
	prefix string
}

// NewRedisProvider создаёт провайдер. prefix добавляется ко всем ключам.
func NewRedisProvider(client redis.Cmdable, prefix string) *RedisProvider {
	return &RedisProvider{client: client, prefix: prefix}
}

func (p *RedisProvider) key(k string) string {
	return p.prefix + k
}

// SetNX реализует Provider.
func (p *RedisProvider) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := p.client.SetNX(ctx, p.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Get реализует Provider.
func (p *RedisProvider) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := p.client.Get(ctx, p.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// Delete реализует Provider.
func (p *RedisProvider) Delete(ctx context.Context, key string) error {
	if err := p.client.Del(ctx, p.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// CompareAndDelete реализует CompareAndDeleter одним Lua-скриптом.
func (p *RedisProvider) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := releaseScript.Run(ctx, p.client, []string{p.key(key)}, value).Int()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-delete: %w", err)
	}
	return n == 1, nil
}
