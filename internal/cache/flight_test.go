package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowhub/search-go/internal/models"
)

func TestFlightGroupCollapsesConcurrentCalls(t *testing.T) {
	g := newFlightGroup()
	block := make(chan struct{})

	type outcome struct {
		resp *models.SearchResponse
		err  error
	}
	results := make(chan outcome, 3)
	for i := 0; i < 3; i++ {
		go func() {
			resp, err := g.Do(context.Background(), "k", func(ctx context.Context) (*models.SearchResponse, error) {
				<-block
				return staticResponse(42), nil
			})
			results <- outcome{resp: resp, err: err}
		}()
	}

	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		call := g.calls["k"]
		return call != nil && call.waiters == 3
	}, time.Second, time.Millisecond)

	close(block)
	for i := 0; i < 3; i++ {
		got := <-results
		require.NoError(t, got.err)
		assert.Equal(t, 42, got.resp.TotalMatched)
	}
}

func TestFlightGroupStaleComputeKeepsSuccessor(t *testing.T) {
	g := newFlightGroup()
	ctx := context.Background()

	firstBlock := make(chan struct{})
	firstReturned := make(chan struct{})
	waiterCtx, abandon := context.WithCancel(ctx)
	go func() {
		g.Do(waiterCtx, "k", func(ctx context.Context) (*models.SearchResponse, error) {
			<-firstBlock
			defer close(firstReturned)
			return nil, context.Canceled
		})
	}()

	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.calls["k"] != nil
	}, time.Second, time.Millisecond)

	// 唯一等待方离开，在途记录被摘除，但旧计算还在跑
	abandon()
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.calls["k"] == nil
	}, time.Second, time.Millisecond)

	secondBlock := make(chan struct{})
	type outcome struct {
		resp *models.SearchResponse
		err  error
	}
	second := make(chan outcome, 1)
	go func() {
		resp, err := g.Do(ctx, "k", func(ctx context.Context) (*models.SearchResponse, error) {
			<-secondBlock
			return staticResponse(7), nil
		})
		second <- outcome{resp: resp, err: err}
	}()

	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.calls["k"] != nil
	}, time.Second, time.Millisecond)

	// 旧计算收尾时不得把顶替它的新调用从表里摘掉
	close(firstBlock)
	<-firstReturned
	assert.Never(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.calls["k"] == nil
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(secondBlock)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, 7, got.resp.TotalMatched)
}
