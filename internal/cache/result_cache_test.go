package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowhub/search-go/internal/models"
)

type brokenBackend struct{}

func (b *brokenBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("backend down")
}

func (b *brokenBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("backend down")
}

func (b *brokenBackend) Delete(ctx context.Context, keys ...string) error {
	return errors.New("backend down")
}

func (b *brokenBackend) Ready() bool {
	return false
}

func testRequest(query string, filters models.SearchFilters) models.SearchRequest {
	return models.SearchRequest{
		Query:    query,
		Language: models.LanguageKorean,
		Filters:  filters,
		Page:     1,
		PageSize: 10,
	}
}

func staticResponse(total int) *models.SearchResponse {
	return &models.SearchResponse{
		Results:      []models.SearchHit{{DocumentID: "doc-1", FusedScore: 1}},
		TotalMatched: total,
	}
}

func TestCacheHitSkipsCompute(t *testing.T) {
	cache := NewResultCache(NewMemoryBackend(100), time.Minute)
	ctx := context.Background()
	req := testRequest("검색", models.SearchFilters{})

	var calls atomic.Int32
	compute := func(ctx context.Context) (*models.SearchResponse, error) {
		calls.Add(1)
		return staticResponse(1), nil
	}

	first, err := cache.Get(ctx, req, compute)
	require.NoError(t, err)
	second, err := cache.Get(ctx, req, compute)
	require.NoError(t, err)

	assert.Equal(t, first.TotalMatched, second.TotalMatched)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCacheSingleFlightCollapsesConcurrentMisses(t *testing.T) {
	cache := NewResultCache(NewMemoryBackend(100), time.Minute)
	req := testRequest("검색", models.SearchFilters{})

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(ctx context.Context) (*models.SearchResponse, error) {
		calls.Add(1)
		<-release
		return staticResponse(1), nil
	}

	const waiters = 8
	var wg sync.WaitGroup
	results := make([]*models.SearchResponse, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := cache.Get(context.Background(), req, compute)
			require.NoError(t, err)
			results[i] = resp
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, resp := range results {
		require.NotNil(t, resp)
		assert.Equal(t, 1, resp.TotalMatched)
	}
}

func TestCacheFailurePropagatesToAllWaiters(t *testing.T) {
	cache := NewResultCache(NewMemoryBackend(100), time.Minute)
	req := testRequest("검색", models.SearchFilters{})

	computeErr := errors.New("engine exploded")
	release := make(chan struct{})
	compute := func(ctx context.Context) (*models.SearchResponse, error) {
		<-release
		return nil, computeErr
	}

	const waiters = 4
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Get(context.Background(), req, compute)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, computeErr)
	}

	// 失败不落缓存，下一次请求重新计算
	var recomputed atomic.Bool
	resp, err := cache.Get(context.Background(), req, func(ctx context.Context) (*models.SearchResponse, error) {
		recomputed.Store(true)
		return staticResponse(2), nil
	})
	require.NoError(t, err)
	assert.True(t, recomputed.Load())
	assert.Equal(t, 2, resp.TotalMatched)
}

func TestCacheComputeDetachedFromCallerCancel(t *testing.T) {
	cache := NewResultCache(NewMemoryBackend(100), time.Minute)
	req := testRequest("검색", models.SearchFilters{})

	started := make(chan struct{})
	release := make(chan struct{})
	var computeCancelled atomic.Bool
	compute := func(ctx context.Context) (*models.SearchResponse, error) {
		close(started)
		select {
		case <-ctx.Done():
			computeCancelled.Store(true)
			return nil, ctx.Err()
		case <-release:
			return staticResponse(1), nil
		}
	}

	// 第一个调用方很快取消，第二个留下等结果
	ctx1, cancel1 := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	var err1, err2 error
	var resp2 *models.SearchResponse
	go func() {
		defer wg.Done()
		_, err1 = cache.Get(ctx1, req, compute)
	}()
	<-started
	go func() {
		defer wg.Done()
		resp2, err2 = cache.Get(context.Background(), req, compute)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel1()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.ErrorIs(t, err1, context.Canceled)
	require.NoError(t, err2)
	assert.Equal(t, 1, resp2.TotalMatched)
	assert.False(t, computeCancelled.Load())
}

func TestCacheComputeCancelledWhenLastWaiterLeaves(t *testing.T) {
	cache := NewResultCache(NewMemoryBackend(100), time.Minute)
	req := testRequest("검색", models.SearchFilters{})

	started := make(chan struct{})
	cancelled := make(chan struct{})
	compute := func(ctx context.Context) (*models.SearchResponse, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, req, compute)
		done <- err
	}()

	<-started
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("compute was not cancelled after last waiter left")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	backend := NewMemoryBackend(100)
	now := time.Now()
	var mu sync.Mutex
	backend.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	cache := NewResultCache(backend, time.Minute)
	req := testRequest("검색", models.SearchFilters{})

	var calls atomic.Int32
	compute := func(ctx context.Context) (*models.SearchResponse, error) {
		calls.Add(1)
		return staticResponse(1), nil
	}

	_, err := cache.Get(context.Background(), req, compute)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	_, err = cache.Get(context.Background(), req, compute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCacheInvalidationByTagChange(t *testing.T) {
	cache := NewResultCache(NewMemoryBackend(100), time.Minute)
	ctx := context.Background()

	tagged := testRequest("검색", models.SearchFilters{Tags: []string{"x"}})
	unrelated := testRequest("검색", models.SearchFilters{Tags: []string{"z"}})

	var taggedCalls, unrelatedCalls atomic.Int32
	computeTagged := func(ctx context.Context) (*models.SearchResponse, error) {
		taggedCalls.Add(1)
		return staticResponse(1), nil
	}
	computeUnrelated := func(ctx context.Context) (*models.SearchResponse, error) {
		unrelatedCalls.Add(1)
		return staticResponse(1), nil
	}

	_, err := cache.Get(ctx, tagged, computeTagged)
	require.NoError(t, err)
	_, err = cache.Get(ctx, unrelated, computeUnrelated)
	require.NoError(t, err)

	// 文档标签从x改为y，信号携带新旧标签并集
	cache.Invalidate(ctx, models.InvalidationSignal{
		DocumentID: "doc-1",
		CategoryIDs: []string{"guides"},
		Tags:       []string{"x", "y"},
	})

	_, err = cache.Get(ctx, tagged, computeTagged)
	require.NoError(t, err)
	_, err = cache.Get(ctx, unrelated, computeUnrelated)
	require.NoError(t, err)

	assert.Equal(t, int32(2), taggedCalls.Load(), "tag-filtered query must recompute")
	assert.Equal(t, int32(1), unrelatedCalls.Load(), "unrelated query stays cached")
}

func TestCacheInvalidationEvictsUnfilteredQueries(t *testing.T) {
	cache := NewResultCache(NewMemoryBackend(100), time.Minute)
	ctx := context.Background()
	req := testRequest("검색", models.SearchFilters{})

	var calls atomic.Int32
	compute := func(ctx context.Context) (*models.SearchResponse, error) {
		calls.Add(1)
		return staticResponse(1), nil
	}

	_, err := cache.Get(ctx, req, compute)
	require.NoError(t, err)

	cache.Invalidate(ctx, models.InvalidationSignal{DocumentID: "doc-9", CategoryIDs: []string{"other"}})

	_, err = cache.Get(ctx, req, compute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCacheBypassOnBackendFailure(t *testing.T) {
	cache := NewResultCache(&brokenBackend{}, time.Minute)
	req := testRequest("검색", models.SearchFilters{})

	var calls atomic.Int32
	compute := func(ctx context.Context) (*models.SearchResponse, error) {
		calls.Add(1)
		return staticResponse(1), nil
	}

	for i := 0; i < 3; i++ {
		resp, err := cache.Get(context.Background(), req, compute)
		require.NoError(t, err)
		assert.Equal(t, 1, resp.TotalMatched)
	}
	assert.Equal(t, int32(3), calls.Load())
}

type hookBackend struct {
	*MemoryBackend
	onSet func()
}

func (h *hookBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if h.onSet != nil {
		h.onSet()
	}
	return h.MemoryBackend.Set(ctx, key, value, ttl)
}

func TestCacheInvalidationDuringStoreEvictsEntry(t *testing.T) {
	backend := &hookBackend{MemoryBackend: NewMemoryBackend(100)}
	cache := NewResultCache(backend, time.Minute)
	ctx := context.Background()
	req := testRequest("검색", models.SearchFilters{Tags: []string{"x"}})

	// 失效信号恰好落在写后端与注册键之间的窗口里
	var fired atomic.Bool
	backend.onSet = func() {
		if fired.CompareAndSwap(false, true) {
			cache.Invalidate(ctx, models.InvalidationSignal{
				DocumentID: "doc-1",
				Tags:       []string{"x"},
			})
		}
	}

	var calls atomic.Int32
	compute := func(ctx context.Context) (*models.SearchResponse, error) {
		calls.Add(1)
		return staticResponse(int(calls.Load())), nil
	}

	_, err := cache.Get(ctx, req, compute)
	require.NoError(t, err)

	// 失效之前写入的条目不得被后续请求读到
	resp, err := cache.Get(ctx, req, compute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, resp.TotalMatched)
}

func TestCacheKeyStability(t *testing.T) {
	a := testRequest("검색", models.SearchFilters{Tags: []string{"b", "a"}})
	b := testRequest("검색", models.SearchFilters{Tags: []string{"a", "b"}})
	assert.Equal(t, CacheKey(a), CacheKey(b))

	c := testRequest("검색", models.SearchFilters{Tags: []string{"a"}})
	assert.NotEqual(t, CacheKey(a), CacheKey(c))
}
