package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend 进程内缓存后端，用于单机部署和测试
type MemoryBackend struct {
	mu      sync.Mutex
	items   map[string]memoryItem
	maxKeys int
	now     func() time.Time
}

// NewMemoryBackend 创建内存缓存后端
func NewMemoryBackend(maxKeys int) *MemoryBackend {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &MemoryBackend{
		items:   make(map[string]memoryItem),
		maxKeys: maxKeys,
		now:     time.Now,
	}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(item.expiresAt) {
		delete(m.items, key)
		return nil, false, nil
	}
	return item.value, true, nil
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) >= m.maxKeys {
		m.evictLocked()
	}
	m.items[key] = memoryItem{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.items, key)
	}
	return nil
}

func (m *MemoryBackend) Ready() bool {
	return true
}

// evictLocked 先清过期项，仍然满则淘汰最早过期的条目
func (m *MemoryBackend) evictLocked() {
	now := m.now()
	for key, item := range m.items {
		if now.After(item.expiresAt) {
			delete(m.items, key)
		}
	}
	if len(m.items) < m.maxKeys {
		return
	}
	var oldestKey string
	var oldest time.Time
	for key, item := range m.items {
		if oldestKey == "" || item.expiresAt.Before(oldest) {
			oldestKey = key
			oldest = item.expiresAt
		}
	}
	if oldestKey != "" {
		delete(m.items, oldestKey)
	}
}

var _ Backend = (*MemoryBackend)(nil)
