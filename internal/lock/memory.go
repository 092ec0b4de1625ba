package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider — Provider в памяти процесса.
// Подходит для одного экземпляра и для тестов.
type MemoryProvider struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value     string
	expiresAt time.Time
}

// NewMemoryProvider создаёт пустой MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// get возвращает живой элемент; просроченные удаляются. Вызывать под mu.
func (p *MemoryProvider) get(key string) (memoryItem, bool) {
	item, ok := p.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.IsZero() && !p.now().Before(item.expiresAt) {
		delete(p.items, key)
		return memoryItem{}, false
	}
	return item, true
}

// SetNX реализует Provider.
func (p *MemoryProvider) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.get(key); ok {
		return false, nil
	}

	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = p.now().Add(ttl)
	}
	p.items[key] = item
	return true, nil
}

// Get реализует Provider.
func (p *MemoryProvider) Get(_ context.Context, key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.get(key)
	if !ok {
		return "", false, nil
	}
	return item.value, true, nil
}

// Delete реализует Provider.
func (p *MemoryProvider) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.items, key)
	return nil
}

// CompareAndDelete реализует CompareAndDeleter.
func (p *MemoryProvider) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.get(key)
	if !ok || item.value != value {
		return false, nil
	}
	delete(p.items, key)
	return true, nil
}
