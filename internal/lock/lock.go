package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Provider — key-value хранилище, поддерживающее условную установку с TTL.
type Provider interface {
	// SetNX устанавливает key=value с TTL, только если ключа нет.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get возвращает значение ключа; ok=false, если ключа нет.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Delete удаляет ключ.
	Delete(ctx context.Context, key string) error
}

// CompareAndDeleter — опциональная атомарная операция "удалить, если значение совпадает".
// Если провайдер её поддерживает, Release не делает отдельные Get + Delete.
type CompareAndDeleter interface {
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// Lock — именованный lease с уникальным token владельца.
type Lock struct {
	provider Provider
	key      string
	token    string
	ttl      time.Duration
	logger   *slog.Logger
}

// Option настраивает Lock.
type Option func(*Lock)

// WithLogger задаёт логгер для проглоченных ошибок.
func WithLogger(l *slog.Logger) Option {
	return func(lk *Lock) {
		if l != nil {
			lk.logger = l
		}
	}
}

// New создаёт Lock с новым случайным token.
func New(provider Provider, key string, ttl time.Duration, opts ...Option) *Lock {
	lk := &Lock{
		provider: provider,
		key:      key,
		token:    uuid.NewString(),
		ttl:      ttl,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(lk)
	}
	return lk
}

// Key возвращает ключ блокировки.
func (l *Lock) Key() string { return l.key }

// Token возвращает token владельца.
func (l *Lock) Token() string { return l.token }

// Acquire пытается захватить блокировку.
// Любая ошибка хранилища трактуется как "не захвачено".
func (l *Lock) Acquire(ctx context.Context) bool {
	ok, err := l.provider.SetNX(ctx, l.key, l.token, l.ttl)
	if err != nil {
		l.logger.Warn("lock acquire failed, treating as not acquired",
			"key", l.key,
			"error", err,
		)
		return false
	}
	return ok
}

// Release освобождает блокировку, если она всё ещё принадлежит нам.
// Ошибки проглатываются: по истечении TTL ключ исчезнет сам.
func (l *Lock) Release(ctx context.Context) {
	if cad, ok := l.provider.(CompareAndDeleter); ok {
		if _, err := cad.CompareAndDelete(ctx, l.key, l.token); err != nil {
			l.logger.Warn("lock release failed", "key", l.key, "error", err)
		}
		return
	}

	current, ok, err := l.provider.Get(ctx, l.key)
	if err != nil {
		l.logger.Warn("lock release: get failed", "key", l.key, "error", err)
		return
	}
	if !ok || current != l.token {
		// Lease истёк и, возможно, перехвачен — чужое не трогаем
		l.logger.Debug("lock no longer owned, skipping release", "key", l.key)
		return
	}
	if err := l.provider.Delete(ctx, l.key); err != nil {
		l.logger.Warn("lock release: delete failed", "key", l.key, "error", err)
	}
}

// WithLock выполняет fn под блокировкой key.
//
// Возвращает acquired=false (и не вызывает fn), если блокировку держит
// кто-то другой или хранилище недоступно.
func WithLock[T any](ctx context.Context, provider Provider, key string, ttl time.Duration, fn func(ctx context.Context) (T, error), opts ...Option) (T, bool, error) {
	var zero T

	lk := New(provider, key, ttl, opts...)
	if !lk.Acquire(ctx) {
		return zero, false, nil
	}
	defer lk.Release(context.WithoutCancel(ctx))

	res, err := fn(ctx)
	return res, true, err
}
