package cache

import (
	"context"
	"time"
)

// Backend 缓存存储后端抽象
// 后端故障不向上层透出，调用方看到的只是缓存未命中
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ready() bool
}

// NoopBackend 默认占位实现，等价于缓存永远未命中
type NoopBackend struct{}

func (n *NoopBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (n *NoopBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (n *NoopBackend) Delete(ctx context.Context, keys ...string) error {
	return nil
}

func (n *NoopBackend) Ready() bool {
	return false
}
