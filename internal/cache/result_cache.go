package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/knowhub/search-go/internal/logger"
	"github.com/knowhub/search-go/internal/models"
)

// keyMeta 缓存键的失效判定元数据
type keyMeta struct {
	filters models.SearchFilters
}

// ResultCache 查询结果缓存
// 后端故障对调用方透明，同key并发未命中合并为一次计算
type ResultCache struct {
	backend Backend
	flight  *flightGroup
	ttl     time.Duration

	// 失效信号到来时对注册的键做保守匹配
	mu         sync.Mutex
	registry   map[string]keyMeta
	generation atomic.Uint64

	log *zap.Logger
}

// NewResultCache 创建结果缓存
func NewResultCache(backend Backend, ttl time.Duration) *ResultCache {
	if backend == nil {
		backend = &NoopBackend{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResultCache{
		backend:  backend,
		flight:   newFlightGroup(),
		ttl:      ttl,
		registry: make(map[string]keyMeta),
		log:      logger.Named("result_cache"),
	}
}

// Get 带缓存执行一次检索
// 未命中时同key请求合并计算，计算失败广播给全部等待方且不缓存
func (c *ResultCache) Get(ctx context.Context, req models.SearchRequest, compute func(ctx context.Context) (*models.SearchResponse, error)) (*models.SearchResponse, error) {
	key := CacheKey(req)

	if payload, ok := c.lookup(ctx, key); ok {
		var resp models.SearchResponse
		if err := json.Unmarshal(payload, &resp); err == nil {
			return &resp, nil
		}
		// 解码失败按未命中处理，坏条目直接丢弃
		if err := c.backend.Delete(ctx, key); err != nil {
			c.log.Warn("cache delete failed", zap.Error(err))
		}
	}

	return c.flight.Do(ctx, key, func(computeCtx context.Context) (*models.SearchResponse, error) {
		startGen := c.generation.Load()
		resp, err := compute(computeCtx)
		if err != nil {
			return nil, err
		}
		c.store(computeCtx, key, req, resp, startGen)
		return resp, nil
	})
}

// Invalidate 按失效信号清理相关缓存键
// 信号携带新旧两版的类目与标签并集，宁可多清不可漏清
func (c *ResultCache) Invalidate(ctx context.Context, signal models.InvalidationSignal) {
	c.generation.Add(1)

	c.mu.Lock()
	victims := make([]string, 0)
	for key, meta := range c.registry {
		if invalidationMatches(meta.filters, signal) {
			victims = append(victims, key)
			delete(c.registry, key)
		}
	}
	c.mu.Unlock()

	if len(victims) == 0 {
		return
	}
	if err := c.backend.Delete(ctx, victims...); err != nil {
		c.log.Warn("cache invalidation delete failed",
			zap.String("document_id", signal.DocumentID),
			zap.Error(err))
	}
	c.log.Debug("cache invalidated",
		zap.String("document_id", signal.DocumentID),
		zap.Int("keys", len(victims)))
}

// Flush 清空全部已注册的缓存键
func (c *ResultCache) Flush(ctx context.Context) {
	c.generation.Add(1)

	c.mu.Lock()
	victims := make([]string, 0, len(c.registry))
	for key := range c.registry {
		victims = append(victims, key)
	}
	c.registry = make(map[string]keyMeta)
	c.mu.Unlock()

	if len(victims) == 0 {
		return
	}
	if err := c.backend.Delete(ctx, victims...); err != nil {
		c.log.Warn("cache flush failed", zap.Error(err))
	}
}

func (c *ResultCache) lookup(ctx context.Context, key string) ([]byte, bool) {
	payload, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		// 后端故障等价于未命中，检索照常执行
		c.log.Warn("cache lookup failed, bypassing", zap.Error(err))
		return nil, false
	}
	return payload, ok
}

// store 写入缓存并注册失效元数据
// 写入与注册之间可能有失效信号经过且错过尚未注册的键，
// 注册时在锁内复查generation，不一致则条目作废
func (c *ResultCache) store(ctx context.Context, key string, req models.SearchRequest, resp *models.SearchResponse, startGen uint64) {
	payload, err := json.Marshal(resp)
	if err != nil {
		c.log.Warn("cache encode failed", zap.Error(err))
		return
	}
	if err := c.backend.Set(ctx, key, payload, c.ttl); err != nil {
		c.log.Warn("cache store failed, bypassing", zap.Error(err))
		return
	}
	c.mu.Lock()
	if c.generation.Load() != startGen {
		c.mu.Unlock()
		if err := c.backend.Delete(ctx, key); err != nil {
			c.log.Warn("cache delete failed", zap.Error(err))
		}
		return
	}
	c.registry[key] = keyMeta{filters: req.Filters}
	c.mu.Unlock()
}

// invalidationMatches 保守失效匹配
// 无过滤条件的查询、类目相交或标签相交的查询都被清理
func invalidationMatches(filters models.SearchFilters, signal models.InvalidationSignal) bool {
	if filters.Empty() {
		return true
	}
	for _, cat := range signal.CategoryIDs {
		for _, want := range filters.CategoryIDs {
			if cat == want {
				return true
			}
		}
	}
	for _, tag := range signal.Tags {
		for _, want := range filters.Tags {
			if tag == want {
				return true
			}
		}
	}
	// 只按内容类型过滤的查询无法精确判定，一并清理
	if len(filters.CategoryIDs) == 0 && len(filters.Tags) == 0 {
		return true
	}
	return false
}

// CacheKey 构造稳定的缓存键，语义相同的请求产生相同的键
func CacheKey(req models.SearchRequest) string {
	var b strings.Builder
	b.WriteString(string(req.Language))
	b.WriteByte('|')
	b.WriteString(string(req.Mode))
	b.WriteByte('|')
	b.WriteString(req.Query)
	b.WriteByte('|')
	writeSorted(&b, req.Filters.CategoryIDs)
	b.WriteByte('|')
	writeSorted(&b, req.Filters.Tags)
	b.WriteByte('|')
	writeSorted(&b, req.Filters.ContentTypes)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(req.Page))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(req.PageSize))

	sum := sha256.Sum256([]byte(b.String()))
	return "search:v1:" + hex.EncodeToString(sum[:16])
}

func writeSorted(b *strings.Builder, values []string) {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	b.WriteString(strings.Join(sorted, ","))
}
